package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/gpurig/gpurig/internal/app/imagerm"
	imagedocker "github.com/gpurig/gpurig/internal/image/docker"
	"github.com/gpurig/gpurig/internal/printer"
)

// ImageRmCommand removes a cached toolchain image.
type ImageRmCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ref string
}

// NewImageRmCommand returns the image rm command.
func NewImageRmCommand(rootCmd *RootCommand, imgCmd *ImageCommand) *ImageRmCommand {
	c := &ImageRmCommand{rootCmd: rootCmd}

	c.Cmd = imgCmd.Cmd.Command("rm", "Remove a cached toolchain image.")
	c.Cmd.Arg("ref", "Image tag, digest or digest prefix.").Required().StringVar(&c.ref)

	return c
}

func (c ImageRmCommand) Name() string { return c.Cmd.FullCommand() }

func (c ImageRmCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	repo, images, err := newImageRepository(ctx, c.rootCmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	builder, err := imagedocker.NewBuilder(imagedocker.BuilderConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create image builder: %w", err)
	}

	svc, err := imagerm.NewService(imagerm.ServiceConfig{
		Builder:    builder,
		Repository: images,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	removed, err := svc.Run(ctx, imagerm.Request{Ref: c.ref})
	if err != nil {
		return err
	}

	p := printer.NewTablePrinter(c.rootCmd.Stdout)
	return p.PrintMessage(fmt.Sprintf("Removed image %s (%s)", removed.Tag, removed.Toolchain))
}
