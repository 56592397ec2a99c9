package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/gpurig/gpurig/internal/model"
)

// TablePrinter prints run and image information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintRunList prints task runs in a table format.
func (t *TablePrinter) PrintRunList(runs []model.TaskRun) error {
	if len(runs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header
	fmt.Fprintln(tw, "RUN\tTASK\tTOOLCHAIN\tSTATE\tEXIT\tDURATION\tCREATED")

	// Print rows
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.TaskName,
			r.Toolchain,
			runState(r),
			exitColumn(r),
			durationColumn(r),
			TimeAgo(r.CreatedAt),
		)
	}

	return nil
}

// PrintRunResult prints one run's full detail, output body included.
func (t *TablePrinter) PrintRunResult(run model.TaskRun) error {
	fmt.Fprintf(t.writer, "Run:        %s\n", run.ID)
	fmt.Fprintf(t.writer, "Task:       %s (%s)\n", run.TaskName, run.TaskID)
	fmt.Fprintf(t.writer, "Toolchain:  %s\n", run.Toolchain)
	fmt.Fprintf(t.writer, "Phase:      %s\n", run.Phase)

	if run.Outcome != "" {
		fmt.Fprintf(t.writer, "Outcome:    %s\n", run.Outcome)
	}
	if run.Outcome.TaskCodeOutcome() {
		fmt.Fprintf(t.writer, "Exit code:  %d\n", run.ExitCode)
	}

	fmt.Fprintf(t.writer, "Attempts:   %d\n", run.Attempts)

	reported := "no"
	if run.Reported {
		reported = "yes"
	}
	fmt.Fprintf(t.writer, "Reported:   %s\n", reported)

	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(run.CreatedAt))

	if run.StartedAt != nil {
		fmt.Fprintf(t.writer, "Started:    %s\n", FormatTimestamp(*run.StartedAt))
	}

	if run.FinishedAt != nil {
		fmt.Fprintf(t.writer, "Finished:   %s\n", FormatTimestamp(*run.FinishedAt))
	}

	if run.StartedAt != nil && run.FinishedAt != nil {
		fmt.Fprintf(t.writer, "Duration:   %s\n", FormatDuration(run.FinishedAt.Sub(*run.StartedAt)))
	}

	if run.Error != "" {
		fmt.Fprintf(t.writer, "Error:      %s\n", run.Error)
	}

	if len(run.Output) > 0 {
		size := FormatBytes(int64(len(run.Output)))
		if run.OutputTruncated {
			size += ", truncated"
		}
		fmt.Fprintf(t.writer, "Output:     %s\n", size)
		fmt.Fprintf(t.writer, "\n%s", run.Output)
		if run.Output[len(run.Output)-1] != '\n' {
			fmt.Fprintln(t.writer)
		}
	}

	return nil
}

// PrintImageList prints cached sandbox images in a table format.
func (t *TablePrinter) PrintImageList(images []model.ImageRecord) error {
	if len(images) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	// Print header.
	fmt.Fprintln(tw, "TOOLCHAIN\tTAG\tBASE\tLAST USED\tCREATED")

	// Print rows.
	for _, img := range images {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			img.Toolchain,
			img.Tag,
			img.BaseImage,
			TimeAgo(img.LastUsedAt),
			TimeAgo(img.CreatedAt),
		)
	}

	return nil
}

// PrintChecks prints preflight check results with a closing summary line.
func (t *TablePrinter) PrintChecks(results []model.CheckResult) error {
	for _, r := range results {
		fmt.Fprintf(t.writer, "%s %-20s %s\n", statusMarker(r.Status), r.ID, r.Message)
	}

	_, warnings, errors := model.CountByStatus(results)

	fmt.Fprintln(t.writer)
	if errors == 0 && warnings == 0 {
		fmt.Fprintln(t.writer, "All checks passed!")
		return nil
	}

	var parts []string
	if errors > 0 {
		parts = append(parts, fmt.Sprintf("%d error(s)", errors))
	}
	if warnings > 0 {
		parts = append(parts, fmt.Sprintf("%d warning(s)", warnings))
	}
	fmt.Fprintln(t.writer, strings.Join(parts, ", "))

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

// runState collapses phase and outcome into one column: the outcome once the
// run finished, the phase while it is still moving.
func runState(r model.TaskRun) string {
	if r.Outcome != "" {
		return string(r.Outcome)
	}
	return string(r.Phase)
}

// exitColumn hides the exit code for outcomes the task's own code did not
// produce.
func exitColumn(r model.TaskRun) string {
	if !r.Outcome.TaskCodeOutcome() {
		return "-"
	}
	return fmt.Sprintf("%d", r.ExitCode)
}

func durationColumn(r model.TaskRun) string {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return "-"
	}
	return FormatDuration(r.FinishedAt.Sub(*r.StartedAt))
}

func statusMarker(status model.CheckStatus) string {
	switch status {
	case model.CheckStatusOK:
		return "OK"
	case model.CheckStatusWarning:
		return "!!"
	case model.CheckStatusError:
		return "XX"
	default:
		return "??"
	}
}
