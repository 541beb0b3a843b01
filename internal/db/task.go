package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/mushimuro/agent-company/internal/errors"
	"github.com/mushimuro/agent-company/internal/graph"
	"github.com/mushimuro/agent-company/internal/task"
)

// Task is a unit of work stored in the database.
type Task struct {
	ID                 string         `json:"id"`
	ProjectID          string         `json:"project_id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	AcceptanceCriteria []string       `json:"acceptance_criteria"`
	Status             task.Status    `json:"status"`
	AgentRole          task.AgentRole `json:"agent_role"`
	Priority           int            `json:"priority"`
	Dependencies       []string       `json:"dependencies"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// CreateTask inserts a task after validating its role, priority, and
// dependencies. Dependencies must reference existing tasks of the same
// project and must not introduce a cycle.
func (d *DB) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = task.StatusTodo
	}
	if t.Priority == 0 {
		t.Priority = task.PriorityDefault
	}
	if !task.IsValidRole(t.AgentRole) {
		return coreerrors.ErrProtocol(fmt.Sprintf("invalid agent role %q", t.AgentRole))
	}
	if !task.IsValidPriority(t.Priority) {
		return coreerrors.ErrProtocol(fmt.Sprintf("priority %d out of range [%d,%d]",
			t.Priority, task.PriorityMin, task.PriorityMax))
	}

	if _, err := d.GetProject(ctx, t.ProjectID); err != nil {
		return err
	}
	if err := d.validateDependencies(ctx, t.ProjectID, t.ID, t.Dependencies); err != nil {
		return err
	}

	criteria, err := json.Marshal(t.AcceptanceCriteria)
	if err != nil {
		return fmt.Errorf("encode acceptance criteria: %w", err)
	}

	ts := now()
	return d.RunInTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, title, description, acceptance_criteria, status, agent_role, priority, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.ProjectID, t.Title, t.Description, string(criteria), string(t.Status), string(t.AgentRole), t.Priority, ts, ts); err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		for _, dep := range t.Dependencies {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO task_dependencies (task_id, depends_on) VALUES (?, ?)",
				t.ID, dep); err != nil {
				return fmt.Errorf("insert dependency: %w", err)
			}
		}
		return nil
	})
}

// GetTask retrieves a task with its dependencies.
func (d *DB) GetTask(ctx context.Context, id string) (*Task, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, acceptance_criteria, status, agent_role, priority, created_at, updated_at
		FROM tasks WHERE id = ?
	`, id)

	t, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return nil, coreerrors.ErrTaskNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}

	if t.Dependencies, err = d.taskDependencies(ctx, id); err != nil {
		return nil, err
	}
	return t, nil
}

// ListProjectTasks returns every task of a project in creation order, each
// with its dependencies loaded.
func (d *DB) ListProjectTasks(ctx context.Context, projectID string) ([]*Task, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, project_id, title, description, acceptance_criteria, status, agent_role, priority, created_at, updated_at
		FROM tasks WHERE project_id = ? ORDER BY created_at, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	byID := make(map[string]*Task)
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Batch-load dependencies to avoid a query per task.
	depRows, err := d.sql.QueryContext(ctx, `
		SELECT td.task_id, td.depends_on
		FROM task_dependencies td
		JOIN tasks t ON t.id = td.task_id
		WHERE t.project_id = ?
		ORDER BY td.depends_on
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list task dependencies: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var taskID, dep string
		if err := depRows.Scan(&taskID, &dep); err != nil {
			return nil, err
		}
		if t, ok := byID[taskID]; ok {
			t.Dependencies = append(t.Dependencies, dep)
		}
	}
	return tasks, depRows.Err()
}

// UpdateTask updates a task's mutable fields and replaces its dependencies.
// Dependency changes go through the same validation as creation.
func (d *DB) UpdateTask(ctx context.Context, t *Task) error {
	if !task.IsValidRole(t.AgentRole) {
		return coreerrors.ErrProtocol(fmt.Sprintf("invalid agent role %q", t.AgentRole))
	}
	if !task.IsValidPriority(t.Priority) {
		return coreerrors.ErrProtocol(fmt.Sprintf("priority %d out of range [%d,%d]",
			t.Priority, task.PriorityMin, task.PriorityMax))
	}
	if err := d.validateDependencies(ctx, t.ProjectID, t.ID, t.Dependencies); err != nil {
		return err
	}

	criteria, err := json.Marshal(t.AcceptanceCriteria)
	if err != nil {
		return fmt.Errorf("encode acceptance criteria: %w", err)
	}

	return d.RunInTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET title = ?, description = ?, acceptance_criteria = ?, agent_role = ?, priority = ?, updated_at = ?
			WHERE id = ?
		`, t.Title, t.Description, string(criteria), string(t.AgentRole), t.Priority, now(), t.ID)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return coreerrors.ErrTaskNotFound(t.ID)
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM task_dependencies WHERE task_id = ?", t.ID); err != nil {
			return fmt.Errorf("clear dependencies: %w", err)
		}
		for _, dep := range t.Dependencies {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO task_dependencies (task_id, depends_on) VALUES (?, ?)",
				t.ID, dep); err != nil {
				return fmt.Errorf("insert dependency: %w", err)
			}
		}
		return nil
	})
}

// UpdateTaskStatus sets a task's status.
func (d *DB) UpdateTaskStatus(ctx context.Context, id string, status task.Status) error {
	if !task.IsValidStatus(status) {
		return coreerrors.ErrProtocol(fmt.Sprintf("invalid task status %q", status))
	}
	res, err := d.sql.ExecContext(ctx,
		"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
		string(status), now(), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return coreerrors.ErrTaskNotFound(id)
	}
	return nil
}

// DeleteTask removes a task; its attempts and dependency edges cascade.
func (d *DB) DeleteTask(ctx context.Context, id string) error {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return coreerrors.ErrTaskNotFound(id)
	}
	return nil
}

// ProjectSnapshot loads a project's tasks as graph nodes.
func (d *DB) ProjectSnapshot(ctx context.Context, projectID string) ([]graph.Node, error) {
	tasks, err := d.ListProjectTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	nodes := make([]graph.Node, 0, len(tasks))
	for _, t := range tasks {
		nodes = append(nodes, graph.Node{
			ID:           t.ID,
			Title:        t.Title,
			Status:       t.Status,
			AgentRole:    t.AgentRole,
			Priority:     t.Priority,
			Dependencies: t.Dependencies,
		})
	}
	return nodes, nil
}

// validateDependencies checks that deps reference existing same-project
// tasks, never the task itself, and keep the project graph acyclic.
func (d *DB) validateDependencies(ctx context.Context, projectID, taskID string, deps []string) error {
	if len(deps) == 0 {
		return nil
	}

	for _, dep := range deps {
		if dep == taskID {
			return coreerrors.ErrCycleDetected([][]string{{taskID}})
		}
		var depProject string
		err := d.sql.QueryRowContext(ctx,
			"SELECT project_id FROM tasks WHERE id = ?", dep).Scan(&depProject)
		if err == sql.ErrNoRows {
			return coreerrors.ErrUnknownDependency(taskID, dep)
		}
		if err != nil {
			return fmt.Errorf("check dependency %s: %w", dep, err)
		}
		if depProject != projectID {
			return coreerrors.ErrUnknownDependency(taskID, dep)
		}
	}

	// Simulate the new edges against the project snapshot.
	snapshot, err := d.ProjectSnapshot(ctx, projectID)
	if err != nil {
		return err
	}
	found := false
	for i := range snapshot {
		if snapshot[i].ID == taskID {
			snapshot[i].Dependencies = deps
			found = true
			break
		}
	}
	if !found {
		snapshot = append(snapshot, graph.Node{ID: taskID, Dependencies: deps})
	}

	if g := graph.New(snapshot); g.HasCycles() {
		return coreerrors.ErrCycleDetected(g.Cycles())
	}
	return nil
}

// taskDependencies returns the dependency ids of a task, sorted.
func (d *DB) taskDependencies(ctx context.Context, id string) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT depends_on FROM task_dependencies WHERE task_id = ? ORDER BY depends_on", id)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

func scanTaskRow(row *sql.Row) (*Task, error) {
	var t Task
	var criteria, status, role, created, updated string
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &criteria, &status, &role, &t.Priority, &created, &updated); err != nil {
		return nil, err
	}
	return finishTask(&t, criteria, status, role, created, updated)
}

func scanTaskRows(rows *sql.Rows) (*Task, error) {
	var t Task
	var criteria, status, role, created, updated string
	if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &criteria, &status, &role, &t.Priority, &created, &updated); err != nil {
		return nil, err
	}
	return finishTask(&t, criteria, status, role, created, updated)
}

func finishTask(t *Task, criteria, status, role, created, updated string) (*Task, error) {
	t.Status = task.Status(status)
	t.AgentRole = task.AgentRole(role)
	if criteria != "" {
		if err := json.Unmarshal([]byte(criteria), &t.AcceptanceCriteria); err != nil {
			return nil, fmt.Errorf("decode acceptance criteria: %w", err)
		}
	}
	var err error
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return t, nil
}
