package printer

import "github.com/gpurig/gpurig/internal/model"

// Printer knows how to print run, image and check information in different
// formats.
type Printer interface {
	PrintRunList(runs []model.TaskRun) error
	PrintRunResult(run model.TaskRun) error
	PrintImageList(images []model.ImageRecord) error
	PrintChecks(results []model.CheckResult) error
	PrintMessage(msg string) error
}
