package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/storage/sqlite"
)

func runFixture(id, taskID string) model.TaskRun {
	now := time.Now().UTC().Truncate(time.Second)
	return model.TaskRun{
		ID:        id,
		TaskID:    taskID,
		TaskName:  "unit tests",
		Toolchain: "default",
		Phase:     model.PhasePending,
		CreatedAt: now,
	}
}

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepositoryRunCRUD(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	run := runFixture("run-1", "tsk-1")
	require.NoError(t, repo.CreateRun(ctx, run))

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "tsk-1", got.TaskID)
	assert.Equal(t, "unit tests", got.TaskName)
	assert.Equal(t, model.PhasePending, got.Phase)
	assert.Equal(t, run.CreatedAt, got.CreatedAt)
	assert.Nil(t, got.Output)
	assert.Nil(t, got.FinishedAt)

	now := time.Now().UTC().Truncate(time.Second)
	run.Phase = model.PhaseDone
	run.Outcome = model.OutcomeFailed
	run.ExitCode = 2
	run.Output = []byte("assertion failed\n")
	run.OutputTruncated = true
	run.Error = ""
	run.Attempts = 1
	run.Reported = true
	run.StartedAt = &now
	run.FinishedAt = &now
	require.NoError(t, repo.UpdateRun(ctx, run))

	updated, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDone, updated.Phase)
	assert.Equal(t, model.OutcomeFailed, updated.Outcome)
	assert.Equal(t, 2, updated.ExitCode)
	assert.Equal(t, []byte("assertion failed\n"), updated.Output)
	assert.True(t, updated.OutputTruncated)
	assert.Equal(t, 1, updated.Attempts)
	assert.True(t, updated.Reported)
	require.NotNil(t, updated.StartedAt)
	require.NotNil(t, updated.FinishedAt)
	assert.Equal(t, now, *updated.FinishedAt)
}

func TestRepositoryRunList(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		run := runFixture(id, "tsk-"+id)
		run.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.CreateRun(ctx, run))
	}

	all, err := repo.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-c", all[0].ID)
	assert.Equal(t, "run-b", all[1].ID)
	assert.Equal(t, "run-a", all[2].ID)

	limited, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "run-c", limited[0].ID)
	assert.Equal(t, "run-b", limited[1].ID)

	empty := newRepo(t)
	none, err := empty.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepositoryRunConstraints(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	run := runFixture("run-1", "tsk-1")
	require.NoError(t, repo.CreateRun(ctx, run))

	err := repo.CreateRun(ctx, run)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAlreadyExists))

	invalid := runFixture("", "tsk-1")
	err = repo.CreateRun(ctx, invalid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotValid))

	err = repo.UpdateRun(ctx, runFixture("run-x", "tsk-x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	_, err = repo.GetRun(ctx, "run-x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
