package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Job states.
const (
	JobPending = "PENDING"
	JobRunning = "RUNNING"
	JobDone    = "DONE"
)

// Job is one durable entry of the runner queue. Jobs survive restarts:
// on startup the pool reclaims PENDING and RUNNING jobs.
type Job struct {
	ID        int64     `json:"id"`
	AttemptID string    `json:"attempt_id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnqueueJob appends a pending job for an attempt.
func (d *DB) EnqueueJob(ctx context.Context, attemptID string) (*Job, error) {
	ts := now()
	res, err := d.sql.ExecContext(ctx, `
		INSERT INTO jobs (attempt_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, attemptID, JobPending, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}

	t, _ := parseTime(ts)
	return &Job{ID: id, AttemptID: attemptID, State: JobPending, CreatedAt: t, UpdatedAt: t}, nil
}

// ClaimJob atomically takes the oldest pending job, marking it RUNNING.
// Returns nil when the queue is empty.
func (d *DB) ClaimJob(ctx context.Context) (*Job, error) {
	var job *Job
	err := d.RunInTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, attempt_id, state, created_at, updated_at
			FROM jobs WHERE state = ? ORDER BY id LIMIT 1
		`, JobPending)

		var j Job
		var created, updated string
		err := row.Scan(&j.ID, &j.AttemptID, &j.State, &created, &updated)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?",
			JobRunning, now(), j.ID); err != nil {
			return fmt.Errorf("mark job running: %w", err)
		}

		j.State = JobRunning
		if j.CreatedAt, err = parseTime(created); err != nil {
			return err
		}
		if j.UpdatedAt, err = parseTime(updated); err != nil {
			return err
		}
		job = &j
		return nil
	})
	return job, err
}

// FinishJob marks a job DONE.
func (d *DB) FinishJob(ctx context.Context, id int64) error {
	_, err := d.sql.ExecContext(ctx,
		"UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?", JobDone, now(), id)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// RequeueStaleJobs flips RUNNING jobs back to PENDING. Called on startup so
// jobs interrupted by a crash are picked up again.
func (d *DB) RequeueStaleJobs(ctx context.Context) (int64, error) {
	res, err := d.sql.ExecContext(ctx,
		"UPDATE jobs SET state = ?, updated_at = ? WHERE state = ?", JobPending, now(), JobRunning)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// PendingJobCount returns the number of jobs waiting in the queue.
func (d *DB) PendingJobCount(ctx context.Context) (int, error) {
	var n int
	err := d.sql.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE state = ?", JobPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return n, nil
}
