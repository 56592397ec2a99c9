package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/storage/sqlite"
)

func imageFixture(digest string) model.ImageRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return model.ImageRecord{
		Digest:     digest,
		Toolchain:  "python3",
		Tag:        "gpurig/" + digest[:12],
		BaseImage:  "nvidia/cuda:12.4-devel-ubuntu22.04",
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

func newImageRepo(t *testing.T) *sqlite.ImageRepository {
	t.Helper()
	repo := newRepo(t)
	imgRepo, err := sqlite.NewImageRepository(sqlite.ImageRepositoryConfig{
		DB:     repo.DB(),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	return imgRepo
}

func TestImageRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := newImageRepo(t)

	img := imageFixture("3fa9c71d02be77aa0d4b6d2c91e05f8a3b1c4d5e6f708192a3b4c5d6e7f80910")
	require.NoError(t, repo.CreateImage(ctx, img))

	got, err := repo.GetImage(ctx, img.Digest)
	require.NoError(t, err)
	assert.Equal(t, img.Tag, got.Tag)
	assert.Equal(t, "python3", got.Toolchain)
	assert.Equal(t, "nvidia/cuda:12.4-devel-ubuntu22.04", got.BaseImage)
	assert.Equal(t, img.CreatedAt, got.CreatedAt)

	usedAt := img.LastUsedAt.Add(time.Hour)
	require.NoError(t, repo.TouchImage(ctx, img.Digest, usedAt))

	touched, err := repo.GetImage(ctx, img.Digest)
	require.NoError(t, err)
	assert.Equal(t, usedAt, touched.LastUsedAt)

	require.NoError(t, repo.DeleteImage(ctx, img.Digest))
	_, err = repo.GetImage(ctx, img.Digest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestImageRepositoryList(t *testing.T) {
	ctx := context.Background()
	repo := newImageRepo(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i, digest := range []string{"aaaaaaaaaaaaaaaa", "bbbbbbbbbbbbbbbb", "cccccccccccccccc"} {
		img := imageFixture(digest)
		img.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.CreateImage(ctx, img))
	}

	list, err := repo.ListImages(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "cccccccccccccccc", list[0].Digest)
	assert.Equal(t, "bbbbbbbbbbbbbbbb", list[1].Digest)
	assert.Equal(t, "aaaaaaaaaaaaaaaa", list[2].Digest)
}

func TestImageRepositoryConstraints(t *testing.T) {
	ctx := context.Background()
	repo := newImageRepo(t)

	img := imageFixture("3fa9c71d02be77aa0d4b6d2c91e05f8a3b1c4d5e6f708192a3b4c5d6e7f80910")
	require.NoError(t, repo.CreateImage(ctx, img))

	err := repo.CreateImage(ctx, img)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrAlreadyExists))

	invalid := img
	invalid.Digest = ""
	err = repo.CreateImage(ctx, invalid)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotValid))

	err = repo.TouchImage(ctx, "missing", time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	err = repo.DeleteImage(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
