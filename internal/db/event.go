package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mushimuro/agent-company/internal/task"
)

// AttemptEvent is one timeline entry of an attempt's execution. Sequence is
// the append order within the store; ID is the event's stable identity.
type AttemptEvent struct {
	ID        string            `json:"id"`
	Sequence  int64             `json:"sequence"`
	AttemptID string            `json:"attempt_id"`
	Kind      task.EventKind    `json:"kind"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// AppendAttemptEvent records an execution event. Metadata may be nil. The
// returned event carries the assigned id and sequence number.
func (d *DB) AppendAttemptEvent(ctx context.Context, attemptID string, kind task.EventKind, message string, metadata map[string]string) (*AttemptEvent, error) {
	id := uuid.NewString()
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode event metadata: %w", err)
	}

	ts := now()
	res, err := d.sql.ExecContext(ctx, `
		INSERT INTO attempt_events (id, attempt_id, kind, message, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, attemptID, string(kind), message, string(meta), ts)
	if err != nil {
		return nil, fmt.Errorf("append attempt event: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("attempt event sequence: %w", err)
	}

	t, _ := parseTime(ts)
	return &AttemptEvent{
		ID:        id,
		Sequence:  seq,
		AttemptID: attemptID,
		Kind:      kind,
		Message:   message,
		Metadata:  metadata,
		Timestamp: t,
	}, nil
}

// ListAttemptEvents returns an attempt's events in emission order.
// A limit of 0 returns all events.
func (d *DB) ListAttemptEvents(ctx context.Context, attemptID string, limit int) ([]*AttemptEvent, error) {
	query := `
		SELECT id, sequence, attempt_id, kind, message, metadata, timestamp
		FROM attempt_events WHERE attempt_id = ?
		ORDER BY sequence`
	args := []any{attemptID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempt events: %w", err)
	}
	defer rows.Close()

	var events []*AttemptEvent
	for rows.Next() {
		var ev AttemptEvent
		var kind, meta, ts string
		if err := rows.Scan(&ev.ID, &ev.Sequence, &ev.AttemptID, &kind, &ev.Message, &meta, &ts); err != nil {
			return nil, err
		}
		ev.Kind = task.EventKind(kind)
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
