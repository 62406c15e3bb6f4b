// Package audit keeps a metadata-only log of transcription and summarization calls.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"meetsum/internal/models"
)

const (
	DefaultRecentLimit = 20
	maxRecentLimit     = 200
)

// Recorder persists job records. A nil *Recorder is valid and records nothing.
type Recorder struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRecorder(db *sql.DB, logger *slog.Logger) (*Recorder, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, logger: logger.With("component", "audit.Recorder")}, nil
}

// Enabled reports whether records actually go anywhere.
func (r *Recorder) Enabled() bool {
	return r != nil && r.db != nil
}

// Record stores job and fills in its ID and CreatedAt.
func (r *Recorder) Record(ctx context.Context, job *models.Job) error {
	if !r.Enabled() || job == nil {
		return nil
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (kind, backend, file_name, input_bytes, status, error, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Kind, job.Backend, job.FileName, job.InputBytes, job.Status, job.Error, job.DurationMS, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("job id: %w", err)
	}
	job.ID = id
	return nil
}

// Track starts timing a call and returns the func that records its outcome.
// Failures to write the record are logged, never returned to the caller.
func (r *Recorder) Track(kind models.JobKind, backend, fileName string, inputBytes int64) func(err error) {
	start := time.Now()
	return func(callErr error) {
		if !r.Enabled() {
			return
		}
		job := &models.Job{
			Kind:       kind,
			Backend:    backend,
			FileName:   fileName,
			InputBytes: inputBytes,
			Status:     models.JobStatusOK,
			DurationMS: time.Since(start).Milliseconds(),
		}
		if callErr != nil {
			job.Status = models.JobStatusFailed
			job.Error = callErr.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Record(ctx, job); err != nil {
			r.logger.Warn("record job failed", "kind", kind, "err", err)
		}
	}
}

// Recent returns the newest jobs first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]models.Job, error) {
	if !r.Enabled() {
		return []models.Job{}, nil
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, kind, backend, file_name, input_bytes, status, error, duration_ms, created_at FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.Backend, &j.FileName, &j.InputBytes, &j.Status, &j.Error, &j.DurationMS, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
