package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/storage/memory"
)

func TestRepositoryImages(t *testing.T) {
	repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: log.Noop})
	require.NoError(t, err)

	now := time.Now().UTC()
	img := model.ImageRecord{
		Digest:     "3fa9c71d02be77aa0d4b6d2c91e05f8a3b1c4d5e6f708192a3b4c5d6e7f80910",
		Toolchain:  "python3",
		Tag:        "gpurig/3fa9c71d02be",
		BaseImage:  "nvidia/cuda:12.4-devel-ubuntu22.04",
		CreatedAt:  now,
		LastUsedAt: now,
	}

	err = repo.CreateImage(context.Background(), img)
	require.NoError(t, err)

	got, err := repo.GetImage(context.Background(), img.Digest)
	require.NoError(t, err)
	assert.Equal(t, img.Tag, got.Tag)
	assert.Equal(t, img.Toolchain, got.Toolchain)

	list, err := repo.ListImages(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)

	err = repo.CreateImage(context.Background(), img)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAlreadyExists))

	// Touch moves the last used timestamp.
	usedAt := now.Add(time.Hour)
	err = repo.TouchImage(context.Background(), img.Digest, usedAt)
	require.NoError(t, err)
	got, err = repo.GetImage(context.Background(), img.Digest)
	require.NoError(t, err)
	assert.Equal(t, usedAt, got.LastUsedAt)

	err = repo.DeleteImage(context.Background(), img.Digest)
	require.NoError(t, err)

	_, err = repo.GetImage(context.Background(), img.Digest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	err = repo.TouchImage(context.Background(), img.Digest, usedAt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	err = repo.DeleteImage(context.Background(), img.Digest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestRepositoryImagesOrdering(t *testing.T) {
	repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: log.Noop})
	require.NoError(t, err)

	base := time.Now().UTC()
	for i, digest := range []string{"aaa", "bbb", "ccc"} {
		err := repo.CreateImage(context.Background(), model.ImageRecord{
			Digest:    digest,
			Toolchain: "default",
			Tag:       "gpurig/" + digest,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	list, err := repo.ListImages(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "ccc", list[0].Digest)
	assert.Equal(t, "bbb", list[1].Digest)
	assert.Equal(t, "aaa", list[2].Digest)
}
