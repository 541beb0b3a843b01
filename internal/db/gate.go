package db

import (
	"context"
	"fmt"
	"time"

	"github.com/mushimuro/agent-company/internal/task"
)

// GateResult records one quality gate outcome for an attempt. Duration is
// the gate's run time in seconds as reported by the worker.
type GateResult struct {
	AttemptID string          `json:"attempt_id"`
	GateKind  task.GateKind   `json:"gate_kind"`
	Status    task.GateStatus `json:"status"`
	Detail    string          `json:"detail"`
	Duration  float64         `json:"duration"`
	CreatedAt time.Time       `json:"created_at"`
}

// SaveGateResult upserts a gate result. Re-running a gate for the same
// attempt replaces the previous outcome.
func (d *DB) SaveGateResult(ctx context.Context, g *GateResult) error {
	ts := now()
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO gate_results (attempt_id, gate_kind, status, detail, duration, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(attempt_id, gate_kind) DO UPDATE SET
			status = excluded.status,
			detail = excluded.detail,
			duration = excluded.duration,
			created_at = excluded.created_at
	`, g.AttemptID, string(g.GateKind), string(g.Status), g.Detail, g.Duration, ts)
	if err != nil {
		return fmt.Errorf("save gate result: %w", err)
	}
	g.CreatedAt, _ = parseTime(ts)
	return nil
}

// ListGateResults returns an attempt's gate results ordered by gate kind.
func (d *DB) ListGateResults(ctx context.Context, attemptID string) ([]*GateResult, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT attempt_id, gate_kind, status, detail, duration, created_at
		FROM gate_results WHERE attempt_id = ?
		ORDER BY gate_kind
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list gate results: %w", err)
	}
	defer rows.Close()

	var results []*GateResult
	for rows.Next() {
		var g GateResult
		var kind, status, created string
		if err := rows.Scan(&g.AttemptID, &kind, &status, &g.Detail, &g.Duration, &created); err != nil {
			return nil, err
		}
		g.GateKind = task.GateKind(kind)
		g.Status = task.GateStatus(status)
		if g.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		results = append(results, &g)
	}
	return results, rows.Err()
}
