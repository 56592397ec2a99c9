package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gpurig/gpurig/internal/log"
	"github.com/gpurig/gpurig/internal/model"
	"github.com/gpurig/gpurig/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.RunRepository. The image
// cache manifest lives in the same database, see ImageRepository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository and applies pending
// migrations.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// DB returns the database handle so sibling repositories can share the
// connection.
func (r *Repository) DB() *sql.DB { return r.db }

// CreateRun creates a new task run record.
func (r *Repository) CreateRun(ctx context.Context, run model.TaskRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	startedAt, finishedAt := unixOrNil(run.StartedAt), unixOrNil(run.FinishedAt)

	query := `
		INSERT INTO task_runs (
			id, task_id, task_name, toolchain,
			phase, outcome,
			exit_code, output, output_truncated, error,
			attempts, reported,
			created_at, started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.TaskID,
		run.TaskName,
		run.Toolchain,
		run.Phase,
		run.Outcome,
		run.ExitCode,
		run.Output,
		run.OutputTruncated,
		run.Error,
		run.Attempts,
		run.Reported,
		run.CreatedAt.Unix(),
		startedAt,
		finishedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: task_runs.") {
			return fmt.Errorf("run already exists: %w", model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert run: %w", err)
	}

	r.logger.Debugf("Created run in repository: %s", run.ID)
	return nil
}

// GetRun retrieves a task run by ID.
func (r *Repository) GetRun(ctx context.Context, id string) (*model.TaskRun, error) {
	query := `
		SELECT
			id, task_id, task_name, toolchain,
			phase, outcome,
			exit_code, output, output_truncated, error,
			attempts, reported,
			created_at, started_at, finished_at
		FROM task_runs
		WHERE id = ?
	`

	run, err := r.scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query run: %w", err)
	}

	return &run, nil
}

// ListRuns returns task runs, newest first. A non-positive limit returns all.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]model.TaskRun, error) {
	// SQLite reads a negative limit as no limit.
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT
			id, task_id, task_name, toolchain,
			phase, outcome,
			exit_code, output, output_truncated, error,
			attempts, reported,
			created_at, started_at, finished_at
		FROM task_runs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("could not query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.TaskRun
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// UpdateRun updates an existing task run.
func (r *Repository) UpdateRun(ctx context.Context, run model.TaskRun) error {
	startedAt, finishedAt := unixOrNil(run.StartedAt), unixOrNil(run.FinishedAt)

	query := `
		UPDATE task_runs
		SET
			task_id = ?,
			task_name = ?,
			toolchain = ?,
			phase = ?,
			outcome = ?,
			exit_code = ?,
			output = ?,
			output_truncated = ?,
			error = ?,
			attempts = ?,
			reported = ?,
			created_at = ?,
			started_at = ?,
			finished_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		run.TaskID,
		run.TaskName,
		run.Toolchain,
		run.Phase,
		run.Outcome,
		run.ExitCode,
		run.Output,
		run.OutputTruncated,
		run.Error,
		run.Attempts,
		run.Reported,
		run.CreatedAt.Unix(),
		startedAt,
		finishedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("could not update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", run.ID, model.ErrNotFound)
	}

	r.logger.Debugf("Updated run in repository: %s", run.ID)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) scanRun(s scanner) (model.TaskRun, error) {
	var run model.TaskRun
	var createdAt int64
	var startedAt, finishedAt sql.NullInt64

	err := s.Scan(
		&run.ID,
		&run.TaskID,
		&run.TaskName,
		&run.Toolchain,
		&run.Phase,
		&run.Outcome,
		&run.ExitCode,
		&run.Output,
		&run.OutputTruncated,
		&run.Error,
		&run.Attempts,
		&run.Reported,
		&createdAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return model.TaskRun{}, err
	}

	run.CreatedAt = timeFromUnix(createdAt)
	if startedAt.Valid {
		t := timeFromUnix(startedAt.Int64)
		run.StartedAt = &t
	}
	if finishedAt.Valid {
		t := timeFromUnix(finishedAt.Int64)
		run.FinishedAt = &t
	}

	return run, nil
}

func unixOrNil(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func timeFromUnix(unix int64) time.Time { return time.Unix(unix, 0).UTC() }
