package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gpurig/gpurig/internal/model"
)

// TaskYAMLRepository loads task definitions from YAML files. It backs ad hoc
// runs, where the task comes from a local file instead of the registry.
type TaskYAMLRepository struct {
	fs fs.FS
}

// NewTaskYAMLRepository creates a new YAML task repository.
func NewTaskYAMLRepository(filesystem fs.FS) *TaskYAMLRepository {
	return &TaskYAMLRepository{fs: filesystem}
}

// GetTask loads a task definition from a YAML file. The returned task has no
// ID or creation time, the caller assigns those before dispatching it.
func (r *TaskYAMLRepository) GetTask(ctx context.Context, path string) (model.Task, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.Task{}, fmt.Errorf("reading task file: %w", err)
	}

	if ctx.Err() != nil {
		return model.Task{}, ctx.Err()
	}

	var task Task
	if err := yaml.Unmarshal(data, &task); err != nil {
		return model.Task{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := task.validate(); err != nil {
		return model.Task{}, fmt.Errorf("invalid task: %w", err)
	}

	return task.toModel()
}

// Task represents the YAML structure for a task definition.
type Task struct {
	Name        string            `yaml:"name"`
	Toolchain   string            `yaml:"toolchain"`
	GPUs        int               `yaml:"gpus"`
	Timeout     string            `yaml:"timeout"`
	AllowErrors bool              `yaml:"allow_errors"`
	Source      *SourceConfig     `yaml:"source,omitempty"`
	Env         map[string]string `yaml:"env"`
	Commands    []string          `yaml:"commands"`
	Credential  string            `yaml:"credential"`
}

// SourceConfig represents the YAML structure for a task source checkout.
type SourceConfig struct {
	Repo   string `yaml:"repo"`
	Ref    string `yaml:"ref"`
	Commit string `yaml:"commit"`
}

func (t Task) validate() error {
	if t.Toolchain == "" {
		return fmt.Errorf("toolchain is required")
	}
	if len(t.Commands) == 0 {
		return fmt.Errorf("at least one command is required")
	}
	if t.GPUs < 0 {
		return fmt.Errorf("gpus must not be negative, got: %d", t.GPUs)
	}
	if t.Source != nil && t.Source.Repo == "" {
		return fmt.Errorf("source repo is required")
	}
	return nil
}

func (t Task) toModel() (model.Task, error) {
	task := model.Task{
		Name:          t.Name,
		Toolchain:     t.Toolchain,
		Requirement:   model.CapabilityRequirement{GPUs: t.GPUs},
		Commands:      t.Commands,
		Env:           t.Env,
		AllowErrors:   t.AllowErrors,
		CredentialRef: t.Credential,
	}

	if t.Timeout != "" {
		timeout, err := time.ParseDuration(t.Timeout)
		if err != nil {
			return model.Task{}, fmt.Errorf("invalid timeout: %w", err)
		}
		task.Timeout = timeout
	}

	if t.Source != nil {
		task.Source = &model.SourceRef{
			RepoURL: t.Source.Repo,
			Ref:     t.Source.Ref,
			Commit:  t.Source.Commit,
		}
	}

	return task, nil
}
