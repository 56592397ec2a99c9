package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gpurig/gpurig/internal/model"
)

// JSONPrinter prints run and image information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// runListItem represents a run in the list output (subset of fields).
type runListItem struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	TaskName  string    `json:"task_name"`
	Toolchain string    `json:"toolchain"`
	Phase     string    `json:"phase"`
	Outcome   string    `json:"outcome,omitempty"`
	ExitCode  int       `json:"exit_code"`
	CreatedAt time.Time `json:"created_at"`
}

// runOutput represents the full run detail output.
type runOutput struct {
	ID              string     `json:"id"`
	TaskID          string     `json:"task_id"`
	TaskName        string     `json:"task_name"`
	Toolchain       string     `json:"toolchain"`
	Phase           string     `json:"phase"`
	Outcome         string     `json:"outcome,omitempty"`
	ExitCode        int        `json:"exit_code"`
	Attempts        int        `json:"attempts"`
	Reported        bool       `json:"reported"`
	Output          string     `json:"output"`
	OutputTruncated bool       `json:"output_truncated"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
}

// imageItem represents a cached sandbox image in the list output.
type imageItem struct {
	Toolchain  string    `json:"toolchain"`
	Tag        string    `json:"tag"`
	Digest     string    `json:"digest"`
	BaseImage  string    `json:"base_image"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// checkItem represents one preflight check result.
type checkItem struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintRunList prints task runs in JSON format with a subset of fields.
func (j *JSONPrinter) PrintRunList(runs []model.TaskRun) error {
	items := make([]runListItem, len(runs))
	for i, r := range runs {
		items[i] = runListItem{
			ID:        r.ID,
			TaskID:    r.TaskID,
			TaskName:  r.TaskName,
			Toolchain: r.Toolchain,
			Phase:     string(r.Phase),
			Outcome:   string(r.Outcome),
			ExitCode:  r.ExitCode,
			CreatedAt: r.CreatedAt.UTC(),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintRunResult prints one run's full detail in JSON format.
func (j *JSONPrinter) PrintRunResult(run model.TaskRun) error {
	output := runOutput{
		ID:              run.ID,
		TaskID:          run.TaskID,
		TaskName:        run.TaskName,
		Toolchain:       run.Toolchain,
		Phase:           string(run.Phase),
		Outcome:         string(run.Outcome),
		ExitCode:        run.ExitCode,
		Attempts:        run.Attempts,
		Reported:        run.Reported,
		Output:          string(run.Output),
		OutputTruncated: run.OutputTruncated,
		Error:           run.Error,
		CreatedAt:       run.CreatedAt.UTC(),
		StartedAt:       nil,
		FinishedAt:      nil,
	}

	if run.StartedAt != nil {
		utcTime := run.StartedAt.UTC()
		output.StartedAt = &utcTime
	}

	if run.FinishedAt != nil {
		utcTime := run.FinishedAt.UTC()
		output.FinishedAt = &utcTime
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

// PrintImageList prints cached sandbox images in JSON format.
func (j *JSONPrinter) PrintImageList(images []model.ImageRecord) error {
	items := make([]imageItem, len(images))
	for i, img := range images {
		items[i] = imageItem{
			Toolchain:  img.Toolchain,
			Tag:        img.Tag,
			Digest:     img.Digest,
			BaseImage:  img.BaseImage,
			CreatedAt:  img.CreatedAt.UTC(),
			LastUsedAt: img.LastUsedAt.UTC(),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintChecks prints preflight check results in JSON format.
func (j *JSONPrinter) PrintChecks(results []model.CheckResult) error {
	items := make([]checkItem, len(results))
	for i, r := range results {
		items[i] = checkItem{
			ID:      r.ID,
			Message: r.Message,
			Status:  string(r.Status),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	output := messageOutput{Message: msg}
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}
