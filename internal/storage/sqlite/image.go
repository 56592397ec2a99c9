package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
)

// ImageRepositoryConfig is the configuration for the SQLite image repository.
type ImageRepositoryConfig struct {
	// DB is the shared database handle, usually Repository.DB().
	DB     *sql.DB
	Logger log.Logger
}

func (c *ImageRepositoryConfig) defaults() error {
	if c.DB == nil {
		return fmt.Errorf("db is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.ImageRepository"})
	return nil
}

// ImageRepository is a SQLite implementation of storage.ImageRepository. It
// holds the local image cache manifest keyed by template digest.
type ImageRepository struct {
	db     *sql.DB
	logger log.Logger
}

// NewImageRepository creates a new SQLite image repository.
func NewImageRepository(cfg ImageRepositoryConfig) (*ImageRepository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &ImageRepository{
		db:     cfg.DB,
		logger: cfg.Logger,
	}, nil
}

// CreateImage creates a new image cache record.
func (r *ImageRepository) CreateImage(ctx context.Context, img model.ImageRecord) error {
	if err := img.Validate(); err != nil {
		return fmt.Errorf("invalid image record: %w", err)
	}

	query := `
		INSERT INTO images (digest, toolchain, tag, base_image, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		img.Digest,
		img.Toolchain,
		img.Tag,
		img.BaseImage,
		img.CreatedAt.Unix(),
		img.LastUsedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: images.") {
			return fmt.Errorf("image already exists: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert image record: %w", err)
	}

	r.logger.Debugf("Created image record in repository: %s", img.Digest)
	return nil
}

// GetImage retrieves an image record by template digest.
func (r *ImageRepository) GetImage(ctx context.Context, digest string) (*model.ImageRecord, error) {
	query := `
		SELECT digest, toolchain, tag, base_image, created_at, last_used_at
		FROM images
		WHERE digest = ?
	`

	img, err := r.scanImage(r.db.QueryRowContext(ctx, query, digest))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("image %s: %w", digest, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query image record: %w", err)
	}

	return &img, nil
}

// ListImages returns all image records, newest first.
func (r *ImageRepository) ListImages(ctx context.Context) ([]model.ImageRecord, error) {
	query := `
		SELECT digest, toolchain, tag, base_image, created_at, last_used_at
		FROM images
		ORDER BY created_at DESC, digest DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query image records: %w", err)
	}
	defer rows.Close()

	var images []model.ImageRecord
	for rows.Next() {
		img, err := r.scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		images = append(images, img)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return images, nil
}

// TouchImage refreshes an image record's last used timestamp.
func (r *ImageRepository) TouchImage(ctx context.Context, digest string, usedAt time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE images SET last_used_at = ? WHERE digest = ?`, usedAt.Unix(), digest)
	if err != nil {
		return fmt.Errorf("could not update image record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("image %s: %w", digest, model.ErrNotFound)
	}

	return nil
}

// DeleteImage deletes an image record.
func (r *ImageRepository) DeleteImage(ctx context.Context, digest string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM images WHERE digest = ?`, digest)
	if err != nil {
		return fmt.Errorf("could not delete image record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("image %s: %w", digest, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted image record from repository: %s", digest)
	return nil
}

func (r *ImageRepository) scanImage(s scanner) (model.ImageRecord, error) {
	var img model.ImageRecord
	var createdAt, lastUsedAt int64

	err := s.Scan(
		&img.Digest,
		&img.Toolchain,
		&img.Tag,
		&img.BaseImage,
		&createdAt,
		&lastUsedAt,
	)
	if err != nil {
		return model.ImageRecord{}, err
	}

	img.CreatedAt = timeFromUnix(createdAt)
	img.LastUsedAt = timeFromUnix(lastUsedAt)

	return img, nil
}
