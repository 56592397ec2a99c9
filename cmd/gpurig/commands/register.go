package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/gpurig/gpurig/internal/app/register"
	"github.com/gpurig/gpurig/internal/image"
	"github.com/gpurig/gpurig/internal/printer"
	"github.com/gpurig/gpurig/internal/sysinfo"
)

type RegisterCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewRegisterCommand returns the register command.
func NewRegisterCommand(rootCmd *RootCommand, app *kingpin.Application) *RegisterCommand {
	c := &RegisterCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("register", "Register this machine with the task registry.")

	return c
}

func (c RegisterCommand) Name() string { return c.Cmd.FullCommand() }

func (c RegisterCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cfg, err := loadConfig(ctx, c.rootCmd)
	if err != nil {
		return err
	}

	reg, err := newRegistryClient(cfg, logger)
	if err != nil {
		return err
	}

	catalog, err := image.NewCatalog(cfg.Toolchains)
	if err != nil {
		return fmt.Errorf("could not create toolchain catalog: %w", err)
	}

	prober, err := sysinfo.NewProber(sysinfo.ProberConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create prober: %w", err)
	}

	svc, err := register.NewService(register.ServiceConfig{
		Prober:   prober,
		Registry: reg,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	machine, err := svc.Run(ctx, register.Request{
		Name:       cfg.Machine.Name,
		Capability: cfg.Machine.Capability(catalog.IDs()),
	})
	if err != nil {
		return err
	}

	p := printer.NewTablePrinter(c.rootCmd.Stdout)
	return p.PrintMessage(fmt.Sprintf("Machine %q registered (%d gpus, %d workers)",
		machine.Name, len(machine.Capability.GPUs), machine.Capability.Workers))
}
