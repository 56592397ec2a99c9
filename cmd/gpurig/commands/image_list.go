package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/gpurig/gpurig/internal/app/imagelist"
	"github.com/gpurig/gpurig/internal/printer"
)

// ImageListCommand lists the cached toolchain images.
type ImageListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewImageListCommand returns the image list command.
func NewImageListCommand(rootCmd *RootCommand, imgCmd *ImageCommand) *ImageListCommand {
	c := &ImageListCommand{rootCmd: rootCmd}

	c.Cmd = imgCmd.Cmd.Command("list", "List cached toolchain images.")
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c ImageListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ImageListCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	repo, images, err := newImageRepository(ctx, c.rootCmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := imagelist.NewService(imagelist.ServiceConfig{
		Repository: images,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	records, err := svc.Run(ctx)
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

	if err := p.PrintImageList(records); err != nil {
		return fmt.Errorf("could not print image list: %w", err)
	}

	return nil
}
