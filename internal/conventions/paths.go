package conventions

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// DefaultDataDir is the default gpurig data directory name (relative to home).
	DefaultDataDir = ".gpurig"
	// DBFile is the SQLite database filename inside the data dir.
	DBFile = "gpurig.db"
	// ConfigFile is the default configuration filename inside the data dir.
	ConfigFile = "config.yaml"
	// KeysDir is the subdirectory holding checkout credentials.
	KeysDir = "keys"
	// WorkspacesDir is the subdirectory holding per-run workspaces.
	WorkspacesDir = "workspaces"
	// StagingDir is the subdirectory holding per-run scripts and credential
	// material mounted read-only into sandboxes.
	StagingDir = "staging"

	// ImageTagPrefix prefixes every sandbox image tag built by the resolver.
	ImageTagPrefix = "gpurig/"

	// Paths inside sandboxes.

	// SandboxWorkspaceDir is where the checked out workspace is mounted.
	SandboxWorkspaceDir = "/workspace"
	// SandboxTaskDir is where the run script is mounted read-only.
	SandboxTaskDir = "/task"
	// SandboxCheckoutKeyDir is where checkout credential material is mounted
	// read-only during the checkout pre-step.
	SandboxCheckoutKeyDir = "/run/checkout"
)

// DBPath returns the SQLite database path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// ConfigPath returns the default configuration file path.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, ConfigFile)
}

// KeyPath returns the path of a named checkout credential.
func KeyPath(dataDir, name string) string {
	return filepath.Join(dataDir, KeysDir, name)
}

// WorkspacePath returns the workspace directory for a run.
func WorkspacePath(dataDir, runID string) string {
	return filepath.Join(dataDir, WorkspacesDir, runID)
}

// StagingPath returns the staging directory for a run.
func StagingPath(dataDir, runID string) string {
	return filepath.Join(dataDir, StagingDir, runID)
}

// ImageTag returns the local image tag for a template digest.
func ImageTag(digest string) string {
	short := digest
	if len(short) > 12 {
		short = short[:12]
	}
	return ImageTagPrefix + short
}

// ContainerName returns the container name for a run step, unique per id.
func ContainerName(step, id string) string {
	return fmt.Sprintf("gpurig-%s-%s", step, strings.ToLower(id))
}
