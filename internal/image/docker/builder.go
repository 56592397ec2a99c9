package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/gpurig/gpurig/internal/log"
)

// DockerClient is the interface for Docker image operations that we use.
// This allows us to mock the Docker client for testing.
type DockerClient interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
}

// BuilderConfig is the configuration for the Docker image builder.
type BuilderConfig struct {
	Client DockerClient
	Logger log.Logger
}

func (c *BuilderConfig) defaults() error {
	if c.Client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "image.DockerBuilder"})
	return nil
}

// Builder is the Docker implementation of the image.Builder interface. It
// builds toolchain images from in-memory Dockerfiles.
type Builder struct {
	client DockerClient
	logger log.Logger
}

// NewBuilder creates a new Docker image builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Builder{
		client: cfg.Client,
		logger: cfg.Logger,
	}, nil
}

// Build builds an image from a Dockerfile and tags it. The build context
// holds only the Dockerfile, toolchain steps must fetch what they need.
func (b *Builder) Build(ctx context.Context, tag, dockerfile string) error {
	buildCtx, err := tarDockerfile(dockerfile)
	if err != nil {
		return fmt.Errorf("could not create build context: %w", err)
	}

	resp, err := b.client.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("could not start image build: %w", err)
	}
	defer resp.Body.Close()

	// The build streams progress as JSON messages, failures arrive as an
	// error message on the stream rather than an HTTP error.
	err = jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil)
	if err != nil {
		var jerr *jsonmessage.JSONError
		if errors.As(err, &jerr) {
			return fmt.Errorf("build failed: %s", jerr.Message)
		}
		return fmt.Errorf("could not read build output: %w", err)
	}

	b.logger.Debugf("Built image %s", tag)

	return nil
}

// Exists checks whether an image tag is present on the Docker daemon.
func (b *Builder) Exists(ctx context.Context, tag string) (bool, error) {
	_, err := b.client.ImageInspect(ctx, tag)
	if err != nil {
		if strings.Contains(err.Error(), "No such image") {
			return false, nil
		}
		return false, fmt.Errorf("could not inspect image: %w", err)
	}
	return true, nil
}

// Remove deletes an image tag from the Docker daemon.
func (b *Builder) Remove(ctx context.Context, tag string) error {
	_, err := b.client.ImageRemove(ctx, tag, image.RemoveOptions{PruneChildren: true})
	if err != nil {
		if strings.Contains(err.Error(), "No such image") {
			return nil
		}
		return fmt.Errorf("could not remove image: %w", err)
	}

	b.logger.Debugf("Removed image %s", tag)

	return nil
}

func tarDockerfile(dockerfile string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := tw.WriteHeader(&tar.Header{
		Name: "Dockerfile",
		Mode: 0o644,
		Size: int64(len(dockerfile)),
	})
	if err != nil {
		return nil, fmt.Errorf("writing tar header: %w", err)
	}
	if _, err := tw.Write([]byte(dockerfile)); err != nil {
		return nil, fmt.Errorf("writing tar content: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar: %w", err)
	}

	return &buf, nil
}
