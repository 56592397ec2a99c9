package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/gpurig/gpurig/internal/app/doctor"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/printer"
	sandboxdocker "github.com/gpurig/gpurig/internal/sandbox/docker"
	"github.com/gpurig/gpurig/internal/sysinfo"
)

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("doctor", "Run preflight checks for task execution.")
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	// Doctor must work before any configuration exists.
	engine, err := sandboxdocker.NewEngine(sandboxdocker.EngineConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create sandbox engine: %w", err)
	}

	prober, err := sysinfo.NewProber(sysinfo.ProberConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create prober: %w", err)
	}

	svc, err := doctor.NewService(doctor.ServiceConfig{
		Engine:  engine,
		Prober:  prober,
		DataDir: c.rootCmd.DataDir,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	results := svc.Run(ctx)

	var p printer.Printer
	switch c.format {
	case formatJSON:
		p = printer.NewJSONPrinter(c.rootCmd.Stdout)
	default:
		p = printer.NewTablePrinter(c.rootCmd.Stdout)
	}

	if err := p.PrintChecks(results); err != nil {
		return fmt.Errorf("could not print checks: %w", err)
	}

	if model.HasErrors(results) {
		_, _, errorCount := model.CountByStatus(results)
		return fmt.Errorf("preflight checks failed with %d error(s)", errorCount)
	}

	return nil
}
