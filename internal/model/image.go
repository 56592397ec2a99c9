package model

import (
	"fmt"
	"time"
)

// ImageRef identifies a resolved sandbox image.
type ImageRef struct {
	// Tag is the local image tag (e.g. "gpurig/3fa9c71d02be").
	Tag string
	// Digest is the full template hash the image was built from.
	Digest string
}

// ImageRecord is a cached sandbox image entry in the local manifest.
type ImageRecord struct {
	// Digest keys the cache: the hash of the rendered template.
	Digest     string
	Toolchain  string
	Tag        string
	BaseImage  string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Validate validates the image record.
func (r ImageRecord) Validate() error {
	if r.Digest == "" {
		return fmt.Errorf("image digest is required: %w", ErrNotValid)
	}
	if r.Tag == "" {
		return fmt.Errorf("image tag is required: %w", ErrNotValid)
	}
	if r.Toolchain == "" {
		return fmt.Errorf("image toolchain is required: %w", ErrNotValid)
	}
	return nil
}

// Toolchain is a named sandbox image template: the ordered setup steps layered
// on top of the machine's base image.
type Toolchain struct {
	ID string
	// Steps are shell commands baked into the image as build steps.
	Steps []string
	// GPU marks toolchains that need the CUDA base image and GPU binding
	// support baked in.
	GPU bool
}

// Validate validates the toolchain.
func (t Toolchain) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("toolchain id is required: %w", ErrNotValid)
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("toolchain %q needs at least one step: %w", t.ID, ErrNotValid)
	}
	return nil
}
