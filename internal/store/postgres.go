package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"voice-summarizer/internal/models"
)

var (
	// ErrNotFound is returned when a job id has no record.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists is returned when creating a job whose id is taken.
	ErrAlreadyExists = errors.New("job already exists")
)

// Store wraps pgxpool for Postgres persistence of job records.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJob inserts a fresh record. The id must be unused.
func (s *Store) CreateJob(ctx context.Context, job models.Job) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, status, progress, notes, audio_key, transcript_key, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, job.ID, job.Status, job.Progress, job.Notes, job.AudioKey, job.TranscriptKey, job.CreatedAt, job.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, progress, notes, audio_key, transcript_key, result_markdown, message, created_at, updated_at, expires_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var result pgtype.Text
	var message pgtype.Text

	if err := row.Scan(&job.ID, &job.Status, &job.Progress, &job.Notes, &job.AudioKey, &job.TranscriptKey,
		&result, &message, &job.CreatedAt, &job.UpdatedAt, &job.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.ResultMarkdown = textPtr(result)
	job.Message = textPtr(message)
	return job, nil
}

// SetStatus merges a status and progress checkpoint onto the record.
// Re-applying the same transition is a safe no-op in effect: the same
// values land on the same fields.
func (s *Store) SetStatus(ctx context.Context, id, status string, progress int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, progress = $3, updated_at = NOW()
		WHERE id = $1
	`, id, status, progress)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSucceeded records the terminal success fields.
func (s *Store) MarkSucceeded(ctx context.Context, id, resultMarkdown string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, progress = 100, result_markdown = $3, message = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusSucceeded, resultMarkdown)
	if err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records the terminal failure fields.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, progress = 100, message = $3, result_markdown = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusFailed, message)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired removes records past their retention window regardless of
// status. Returns how many rows were deleted.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
