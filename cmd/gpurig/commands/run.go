package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/gpurig/gpurig/internal/app/runtask"
	"github.com/gpurig/gpurig/internal/metrics"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/printer"
	storageio "github.com/gpurig/gpurig/internal/storage/io"
	"github.com/gpurig/gpurig/internal/utils/env"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	file          string
	envSpecs      []string
	workspace     string
	keepWorkspace bool
	format        string
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Run a task definition from a local file.")
	c.Cmd.Flag("file", "Path of the task definition YAML file.").Short('f').Required().StringVar(&c.file)
	c.Cmd.Flag("env", "Environment variables (KEY=VALUE or KEY from current environment). Can be repeated.").Short('e').StringsVar(&c.envSpecs)
	c.Cmd.Flag("mutable-workspace", "Mount this directory read-write as the task workspace instead of a fresh checkout.").StringVar(&c.workspace)
	c.Cmd.Flag("keep-workspace", "Keep the run workspace on disk after the run.").BoolVar(&c.keepWorkspace)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	taskEnv, err := env.ParseSpecs(c.envSpecs)
	if err != nil {
		return fmt.Errorf("invalid --env value: %w", err)
	}

	cfg, err := loadConfig(ctx, c.rootCmd)
	if err != nil {
		return err
	}

	// Ad hoc runs go through the full lifecycle with no registry involved,
	// the result stays in local history.
	stack, err := newTaskStack(ctx, c.rootCmd, cfg, nil, metrics.Noop)
	if err != nil {
		return err
	}
	defer stack.Repository.Close()

	svc, err := runtask.NewService(runtask.ServiceConfig{
		Tasks:          storageio.NewTaskYAMLRepository(os.DirFS("/")),
		Runner:         stack.Runner,
		DefaultTimeout: cfg.Execution.DefaultTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	path, err := filepath.Abs(c.file)
	if err != nil {
		return fmt.Errorf("could not resolve task file path: %w", err)
	}

	taskRun, err := svc.Run(ctx, runtask.Request{
		Path:          strings.TrimPrefix(path, "/"),
		Env:           taskEnv,
		Workspace:     c.workspace,
		KeepWorkspace: c.keepWorkspace,
	})
	if err != nil {
		return err
	}

	var p printer.Printer
	switch c.format {
	case formatJSON:
		p = printer.NewJSONPrinter(c.rootCmd.Stdout)
	default:
		p = printer.NewTablePrinter(c.rootCmd.Stdout)
	}

	if err := p.PrintRunResult(*taskRun); err != nil {
		return fmt.Errorf("could not print run result: %w", err)
	}

	switch {
	case taskRun.Outcome == model.OutcomeSucceeded:
		return nil
	case taskRun.Outcome.TaskCodeOutcome():
		// Mirror the task's own exit code.
		code := taskRun.ExitCode
		if code <= 0 {
			code = 1
		}
		os.Exit(code)
		return nil
	default:
		return fmt.Errorf("run %s finished %s", taskRun.ID, taskRun.Outcome)
	}
}
