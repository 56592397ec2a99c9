package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gpurig/gpurig/internal/model"
)

func goodTask() model.Task {
	return model.Task{
		ID:        "task-1",
		Name:      "unit tests",
		Source:    &model.SourceRef{RepoURL: "git@example.com:org/repo.git", Ref: "main"},
		Toolchain: "python3",
		Requirement: model.CapabilityRequirement{
			GPUs: 1,
		},
		Commands: []string{"make test"},
		Timeout:  30 * time.Minute,
	}
}

func TestTaskValidate(t *testing.T) {
	tests := map[string]struct {
		task   func() model.Task
		expErr bool
	}{
		"A correct task should validate.": {
			task: goodTask,
		},

		"A task without id should fail.": {
			task: func() model.Task {
				tk := goodTask()
				tk.ID = ""
				return tk
			},
			expErr: true,
		},

		"A task without toolchain should fail.": {
			task: func() model.Task {
				tk := goodTask()
				tk.Toolchain = ""
				return tk
			},
			expErr: true,
		},

		"A task without commands should fail.": {
			task: func() model.Task {
				tk := goodTask()
				tk.Commands = nil
				return tk
			},
			expErr: true,
		},

		"A task without timeout should fail.": {
			task: func() model.Task {
				tk := goodTask()
				tk.Timeout = 0
				return tk
			},
			expErr: true,
		},

		"A task with a negative gpu requirement should fail.": {
			task: func() model.Task {
				tk := goodTask()
				tk.Requirement.GPUs = -1
				return tk
			},
			expErr: true,
		},

		"A task with a source missing the repo url should fail.": {
			task: func() model.Task {
				tk := goodTask()
				tk.Source = &model.SourceRef{Ref: "main"}
				return tk
			},
			expErr: true,
		},

		"A task without source should validate (local workspace runs).": {
			task: func() model.Task {
				tk := goodTask()
				tk.Source = nil
				return tk
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			err := test.task().Validate()

			if test.expErr {
				assert.Error(err)
				assert.ErrorIs(err, model.ErrNotValid)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func TestMachineCapabilityValidate(t *testing.T) {
	tests := map[string]struct {
		capability model.MachineCapability
		expErr     bool
	}{
		"A capability with workers and gpus should validate.": {
			capability: model.MachineCapability{
				Workers: 2,
				GPUs: []model.GPUDevice{
					{Index: 0, PCIAddress: "01:00.0"},
					{Index: 1, PCIAddress: "02:00.0"},
				},
			},
		},

		"A capability without workers should fail.": {
			capability: model.MachineCapability{Workers: 0},
			expErr:     true,
		},

		"A capability with duplicated gpu indexes should fail.": {
			capability: model.MachineCapability{
				Workers: 1,
				GPUs: []model.GPUDevice{
					{Index: 0},
					{Index: 0},
				},
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			err := test.capability.Validate()

			if test.expErr {
				assert.Error(err)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func TestOutcomeTaskCodeOutcome(t *testing.T) {
	tests := map[string]struct {
		outcome model.Outcome
		exp     bool
	}{
		"Succeeded comes from task code.":       {outcome: model.OutcomeSucceeded, exp: true},
		"Failed comes from task code.":          {outcome: model.OutcomeFailed, exp: true},
		"TimedOut comes from task code.":        {outcome: model.OutcomeTimedOut, exp: true},
		"Aborted does not come from task code.": {outcome: model.OutcomeAborted, exp: false},
		"Infra errors do not come from task code.": {
			outcome: model.OutcomeInfraError, exp: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, test.outcome.TaskCodeOutcome())
		})
	}
}
