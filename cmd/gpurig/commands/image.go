package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/gpurig/gpurig/internal/storage/sqlite"
)

// ImageCommand is the parent command for image cache subcommands.
type ImageCommand struct {
	Cmd *kingpin.CmdClause
}

// NewImageCommand returns the image parent command.
func NewImageCommand(app *kingpin.Application) *ImageCommand {
	c := &ImageCommand{}

	c.Cmd = app.Command("image", "Manage the local sandbox image cache.")

	return c
}

// newImageRepository opens the database and returns the image cache manifest
// repository. The caller closes the returned run repository, both share one
// connection.
func newImageRepository(ctx context.Context, rootCmd *RootCommand) (*sqlite.Repository, *sqlite.ImageRepository, error) {
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: rootCmd.DBPath(),
		Logger: rootCmd.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create repository: %w", err)
	}

	images, err := sqlite.NewImageRepository(sqlite.ImageRepositoryConfig{
		DB:     repo.DB(),
		Logger: rootCmd.Logger,
	})
	if err != nil {
		repo.Close()
		return nil, nil, fmt.Errorf("could not create image repository: %w", err)
	}

	return repo, images, nil
}
