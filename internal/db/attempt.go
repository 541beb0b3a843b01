package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/mushimuro/agent-company/internal/errors"
	"github.com/mushimuro/agent-company/internal/task"
)

// Attempt is one execution of a task by an agent. AgentRole is copied from
// the task at creation and never changes, so a task edit mid-flight cannot
// redirect a running attempt.
type Attempt struct {
	ID           string             `json:"id"`
	TaskID       string             `json:"task_id"`
	Status       task.AttemptStatus `json:"status"`
	AgentRole    task.AgentRole     `json:"agent_role"`
	BranchName   string             `json:"branch_name"`
	WorktreePath string             `json:"worktree_path"`
	Diff         string             `json:"diff,omitempty"`
	FilesChanged []string           `json:"files_changed"`
	Result       string             `json:"result"`
	ErrorMessage string             `json:"error_message"`
	CreatedAt    time.Time          `json:"created_at"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

const attemptColumns = "id, task_id, status, agent_role, branch_name, worktree_path, diff, files_changed, result, error_message, created_at, started_at, completed_at"

// CreateAttempt inserts a new attempt for a task. The insert and the
// single-flight check run in one transaction: a task may hold at most one
// attempt in PENDING, QUEUED, or RUNNING.
func (d *DB) CreateAttempt(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = task.AttemptPending
	}

	return d.RunInTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM tasks WHERE id = ?", a.TaskID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check task: %w", err)
		}
		if exists == 0 {
			return coreerrors.ErrTaskNotFound(a.TaskID)
		}

		var active int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM attempts
			WHERE task_id = ? AND status IN ('PENDING', 'QUEUED', 'RUNNING')
		`, a.TaskID).Scan(&active)
		if err != nil {
			return fmt.Errorf("check active attempts: %w", err)
		}
		if active > 0 {
			return coreerrors.ErrAttemptActive(a.TaskID)
		}

		ts := now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attempts (id, task_id, status, agent_role, branch_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, a.ID, a.TaskID, string(a.Status), string(a.AgentRole), a.BranchName, ts); err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		a.CreatedAt, _ = parseTime(ts)
		return nil
	})
}

// GetAttempt retrieves an attempt by id.
func (d *DB) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	row := d.sql.QueryRowContext(ctx,
		"SELECT "+attemptColumns+" FROM attempts WHERE id = ?", id)

	a, err := scanAttemptRow(row)
	if err == sql.ErrNoRows {
		return nil, coreerrors.ErrAttemptNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt %s: %w", id, err)
	}
	return a, nil
}

// ListTaskAttempts returns a task's attempts, newest first.
func (d *DB) ListTaskAttempts(ctx context.Context, taskID string) ([]*Attempt, error) {
	return d.listAttempts(ctx,
		"SELECT "+attemptColumns+" FROM attempts WHERE task_id = ? ORDER BY created_at DESC, id", taskID)
}

// ListAttemptsByStatus returns attempts in the given status, newest first.
func (d *DB) ListAttemptsByStatus(ctx context.Context, status task.AttemptStatus) ([]*Attempt, error) {
	return d.listAttempts(ctx,
		"SELECT "+attemptColumns+" FROM attempts WHERE status = ? ORDER BY created_at DESC, id", string(status))
}

// ListProjectAttempts returns every attempt of a project's tasks in the given
// statuses. With no statuses, all attempts are returned, newest first.
func (d *DB) ListProjectAttempts(ctx context.Context, projectID string, statuses ...task.AttemptStatus) ([]*Attempt, error) {
	query := `
		SELECT a.id, a.task_id, a.status, a.agent_role, a.branch_name, a.worktree_path, a.diff,
		       a.files_changed, a.result, a.error_message, a.created_at, a.started_at, a.completed_at
		FROM attempts a
		JOIN tasks t ON t.id = a.task_id
		WHERE t.project_id = ?`
	args := []any{projectID}

	if len(statuses) > 0 {
		query += " AND a.status IN ("
		for i, s := range statuses {
			if i > 0 {
				query += ", "
			}
			query += "?"
			args = append(args, string(s))
		}
		query += ")"
	}
	query += " ORDER BY a.created_at DESC, a.id"

	return d.listAttempts(ctx, query, args...)
}

// HasActiveAttempt reports whether a task holds a PENDING, QUEUED, or
// RUNNING attempt.
func (d *DB) HasActiveAttempt(ctx context.Context, taskID string) (bool, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attempts
		WHERE task_id = ? AND status IN ('PENDING', 'QUEUED', 'RUNNING')
	`, taskID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check active attempt: %w", err)
	}
	return n > 0, nil
}

// ListSweepableAttempts returns attempts whose worktree can be removed:
// reviewed or abandoned attempts completed before cutoff that still hold a
// worktree path. SUCCESS attempts are excluded, the worktree is needed for
// review and merge.
func (d *DB) ListSweepableAttempts(ctx context.Context, cutoff time.Time) ([]*Attempt, error) {
	return d.listAttempts(ctx, `
		SELECT `+attemptColumns+` FROM attempts
		WHERE status IN ('APPROVED', 'REJECTED', 'CANCELLED', 'FAILED')
		  AND worktree_path != ''
		  AND completed_at < ?
		ORDER BY completed_at, id`,
		cutoff.UTC().Format(time.RFC3339Nano))
}

// ClearWorktree records that an attempt's worktree has been removed.
func (d *DB) ClearWorktree(ctx context.Context, id string) error {
	res, err := d.sql.ExecContext(ctx,
		"UPDATE attempts SET worktree_path = '' WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("clear worktree for attempt %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return coreerrors.ErrAttemptNotFound(id)
	}
	return nil
}

// TransitionAttempt moves an attempt to a new status, enforcing the state
// machine. The current status is re-read inside the transaction, so a
// concurrent cancellation wins over a late completion. Returns the updated
// attempt.
func (d *DB) TransitionAttempt(ctx context.Context, id string, to task.AttemptStatus, mutate func(*Attempt)) (*Attempt, error) {
	var out *Attempt
	err := d.RunInTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			"SELECT "+attemptColumns+" FROM attempts WHERE id = ?", id)
		a, err := scanAttemptRow(row)
		if err == sql.ErrNoRows {
			return coreerrors.ErrAttemptNotFound(id)
		}
		if err != nil {
			return fmt.Errorf("get attempt %s: %w", id, err)
		}

		if !task.CanTransition(a.Status, to) {
			return coreerrors.ErrIllegalTransition(id, string(a.Status), string(to))
		}

		a.Status = to
		ts := time.Now().UTC()
		switch to {
		case task.AttemptRunning:
			a.StartedAt = &ts
		case task.AttemptSuccess, task.AttemptFailed, task.AttemptCancelled:
			a.CompletedAt = &ts
		}
		if mutate != nil {
			mutate(a)
		}

		var started, completed any
		if a.StartedAt != nil {
			started = a.StartedAt.Format(time.RFC3339Nano)
		}
		if a.CompletedAt != nil {
			completed = a.CompletedAt.Format(time.RFC3339Nano)
		}

		files, err := json.Marshal(a.FilesChanged)
		if err != nil {
			return fmt.Errorf("encode files changed: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE attempts
			SET status = ?, worktree_path = ?, diff = ?, files_changed = ?, result = ?, error_message = ?, started_at = ?, completed_at = ?
			WHERE id = ?
		`, string(a.Status), a.WorktreePath, a.Diff, string(files), a.Result, a.ErrorMessage, started, completed, id); err != nil {
			return fmt.Errorf("update attempt: %w", err)
		}
		out = a
		return nil
	})
	return out, err
}

func (d *DB) listAttempts(ctx context.Context, query string, args ...any) ([]*Attempt, error) {
	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		a, err := scanAttemptRows(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func scanAttemptRow(row *sql.Row) (*Attempt, error) {
	var a Attempt
	var status, role, files, created string
	var started, completed sql.NullString
	if err := row.Scan(&a.ID, &a.TaskID, &status, &role, &a.BranchName, &a.WorktreePath, &a.Diff, &files, &a.Result, &a.ErrorMessage, &created, &started, &completed); err != nil {
		return nil, err
	}
	return finishAttempt(&a, status, role, files, created, started, completed)
}

func scanAttemptRows(rows *sql.Rows) (*Attempt, error) {
	var a Attempt
	var status, role, files, created string
	var started, completed sql.NullString
	if err := rows.Scan(&a.ID, &a.TaskID, &status, &role, &a.BranchName, &a.WorktreePath, &a.Diff, &files, &a.Result, &a.ErrorMessage, &created, &started, &completed); err != nil {
		return nil, err
	}
	return finishAttempt(&a, status, role, files, created, started, completed)
}

func finishAttempt(a *Attempt, status, role, files, created string, started, completed sql.NullString) (*Attempt, error) {
	a.Status = task.AttemptStatus(status)
	a.AgentRole = task.AgentRole(role)
	if files != "" {
		if err := json.Unmarshal([]byte(files), &a.FilesChanged); err != nil {
			return nil, fmt.Errorf("decode files changed: %w", err)
		}
	}
	var err error
	if a.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if a.StartedAt, err = parseTimePtr(started); err != nil {
		return nil, err
	}
	if a.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, err
	}
	return a, nil
}
