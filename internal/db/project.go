package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	coreerrors "github.com/mushimuro/agent-company/internal/errors"
)

// Project is a registered project. Config carries worker-facing settings
// (model overrides, framework hints) passed through run_agent verbatim.
type Project struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	OwnerID     string            `json:"owner_id"`
	RepoPath    string            `json:"repo_path"`
	Config      map[string]string `json:"config,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// CreateProject inserts a new project. A missing ID is generated.
func (d *DB) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	cfg, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("encode project config: %w", err)
	}
	ts := now()
	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, owner_id, repo_path, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, p.OwnerID, p.RepoPath, string(cfg), ts, ts)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	p.CreatedAt, _ = parseTime(ts)
	p.UpdatedAt = p.CreatedAt
	return nil
}

// GetProject retrieves a project by id.
func (d *DB) GetProject(ctx context.Context, id string) (*Project, error) {
	row := d.sql.QueryRowContext(ctx, `
		SELECT id, name, description, owner_id, repo_path, config, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)
	return scanProject(row, id)
}

// ListProjects returns all projects, newest first.
func (d *DB) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, name, description, owner_id, repo_path, config, created_at, updated_at
		FROM projects ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProjectRows(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject updates a project's mutable fields.
func (d *DB) UpdateProject(ctx context.Context, p *Project) error {
	cfg, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("encode project config: %w", err)
	}
	res, err := d.sql.ExecContext(ctx, `
		UPDATE projects SET name = ?, description = ?, repo_path = ?, config = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.Description, p.RepoPath, string(cfg), now(), p.ID)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return coreerrors.ErrProjectNotFound(p.ID)
	}
	return nil
}

// DeleteProject removes a project; tasks, attempts, and events cascade.
func (d *DB) DeleteProject(ctx context.Context, id string) error {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return coreerrors.ErrProjectNotFound(id)
	}
	return nil
}

// SetWritableRoots replaces the writable roots of a project.
func (d *DB) SetWritableRoots(ctx context.Context, projectID string, roots []string) error {
	return d.RunInTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM writable_roots WHERE project_id = ?", projectID); err != nil {
			return fmt.Errorf("clear writable roots: %w", err)
		}
		for _, root := range roots {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO writable_roots (project_id, path) VALUES (?, ?)",
				projectID, root); err != nil {
				return fmt.Errorf("insert writable root: %w", err)
			}
		}
		return nil
	})
}

// WritableRoots returns the writable roots of a project, sorted.
func (d *DB) WritableRoots(ctx context.Context, projectID string) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT path FROM writable_roots WHERE project_id = ? ORDER BY path", projectID)
	if err != nil {
		return nil, fmt.Errorf("list writable roots: %w", err)
	}
	defer rows.Close()

	var roots []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		roots = append(roots, p)
	}
	return roots, rows.Err()
}

func scanProject(row *sql.Row, id string) (*Project, error) {
	var p Project
	var cfg, created, updated string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.RepoPath, &cfg, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, coreerrors.ErrProjectNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return finishProject(&p, cfg, created, updated)
}

func scanProjectRows(rows *sql.Rows) (*Project, error) {
	var p Project
	var cfg, created, updated string
	if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.RepoPath, &cfg, &created, &updated); err != nil {
		return nil, err
	}
	return finishProject(&p, cfg, created, updated)
}

func finishProject(p *Project, cfg, created, updated string) (*Project, error) {
	if cfg != "" && cfg != "null" {
		if err := json.Unmarshal([]byte(cfg), &p.Config); err != nil {
			return nil, fmt.Errorf("decode project config: %w", err)
		}
	}
	var err error
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return p, nil
}
