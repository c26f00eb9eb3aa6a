package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JobStatus tracks a persisted job record.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobRecord mirrors a scheduler job on disk so interrupted work can be
// found again after a restart.
type JobRecord struct {
	ID           string
	DocumentID   string
	JobType      string
	ChapterIndex int
	Priority     int
	Status       JobStatus
	Error        string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// CreateJob inserts a queued job record.
func (s *Store) CreateJob(ctx context.Context, rec *JobRecord) error {
	if rec.Status == "" {
		rec.Status = JobQueued
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, document_id, job_type, chapter_index, priority, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DocumentID, rec.JobType, rec.ChapterIndex, rec.Priority,
		string(rec.Status), rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// UpdateJobStatus transitions a job, stamping started/completed times.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var err error
	switch status {
	case JobRunning:
		_, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ?, started_at = ? WHERE id = ?`,
			string(status), errMsg, now, jobID)
	case JobCompleted, JobFailed, JobCancelled:
		_, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
			string(status), errMsg, now, jobID)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ? WHERE id = ?`,
			string(status), errMsg, jobID)
	}
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

// ListJobs returns job records filtered by status (empty = all), newest
// first.
func (s *Store) ListJobs(ctx context.Context, status JobStatus, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	base := `SELECT id, document_id, job_type, chapter_index, priority, status,
		COALESCE(error, ''), created_at, started_at, completed_at FROM jobs`
	if status == "" {
		rows, err = s.db.QueryContext(ctx, base+` ORDER BY created_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, base+` WHERE status = ? ORDER BY created_at DESC LIMIT ?`,
			string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var records []*JobRecord
	for rows.Next() {
		var rec JobRecord
		var st, created string
		var started, completed sql.NullString
		if err := rows.Scan(&rec.ID, &rec.DocumentID, &rec.JobType, &rec.ChapterIndex,
			&rec.Priority, &st, &rec.Error, &created, &started, &completed); err != nil {
			return nil, err
		}
		rec.Status = JobStatus(st)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if started.Valid {
			if t, err := time.Parse(time.RFC3339Nano, started.String); err == nil {
				rec.StartedAt = &t
			}
		}
		if completed.Valid {
			if t, err := time.Parse(time.RFC3339Nano, completed.String); err == nil {
				rec.CompletedAt = &t
			}
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// ResetStalledJobs returns jobs stuck in running state back to queued,
// recovering from an unclean shutdown. Returns the number reset.
func (s *Store) ResetStalledJobs(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = 'reset after unclean shutdown' WHERE status = ?`,
		string(JobQueued), string(JobRunning))
	if err != nil {
		return 0, fmt.Errorf("reset stalled jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CancelJobsForDocument marks every queued or running job of a document
// cancelled.
func (s *Store) CancelJobsForDocument(ctx context.Context, documentID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = ?
		WHERE document_id = ? AND status IN (?, ?)`,
		string(JobCancelled), now, documentID, string(JobQueued), string(JobRunning))
	if err != nil {
		return fmt.Errorf("cancel jobs for document: %w", err)
	}
	return nil
}
