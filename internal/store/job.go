package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job represents a generation job.
type Job struct {
	ID          string     `json:"id"`
	AlbumID     string     `json:"album_id"`
	Prompt      string     `json:"prompt"`
	Count       int        `json:"count"`
	Status      JobStatus  `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// JobStore provides CRUD operations on the jobs table.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// DB returns the underlying database connection.
func (s *JobStore) DB() *sql.DB {
	return s.db
}

// Create inserts a new queued job.
func (s *JobStore) Create(ctx context.Context, albumID, prompt string, count int) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New().String(),
		AlbumID:   albumID,
		Prompt:    prompt,
		Count:     count,
		Status:    JobStatusQueued,
		CreatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, album_id, prompt, count, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.AlbumID, job.Prompt, job.Count,
		string(job.Status), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return job, nil
}

// GetByID retrieves a job by its ID.
func (s *JobStore) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, album_id, prompt, count, status, error, started_at, completed_at, created_at
		 FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// UpdateStatus updates a job's status and optional error message.
func (s *JobStore) UpdateStatus(ctx context.Context, id string, status JobStatus, errMsg *string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var startedAt, completedAt *string
	if status == JobStatusProcessing {
		startedAt = &now
	}
	if status == JobStatusCompleted || status == JobStatusFailed {
		completedAt = &now
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = COALESCE(?, error),
		 started_at = COALESCE(?, started_at), completed_at = COALESCE(?, completed_at)
		 WHERE id = ?`,
		string(status), errMsg, startedAt, completedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// ListByStatus retrieves all jobs with the given status, oldest first.
func (s *JobStore) ListByStatus(ctx context.Context, status JobStatus) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, album_id, prompt, count, status, error, started_at, completed_at, created_at
		 FROM jobs WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var status string
	var errMsg sql.NullString
	var startedAt, completedAt, createdAt *string

	err := s.Scan(&j.ID, &j.AlbumID, &j.Prompt, &j.Count,
		&status, &errMsg, &startedAt, &completedAt, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if errMsg.Valid {
		v := errMsg.String
		j.Error = &v
	}

	j.Status = JobStatus(status)
	j.StartedAt = parseTime(startedAt)
	j.CompletedAt = parseTime(completedAt)
	if createdAt != nil {
		if t, err := time.Parse(time.RFC3339Nano, *createdAt); err == nil {
			j.CreatedAt = t
		}
	}
	return &j, nil
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
