package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/orca/pkg/models"
)

// TraceSummary is a listing row for a persisted trace.
type TraceSummary struct {
	ID         string
	TaskID     string
	StartedAt  time.Time
	DurationMs int64
	SpanCount  int
}

// Save upserts a finished trace. The full tree is stored as a JSON document.
func (db *DB) Save(ctx context.Context, tr *models.ExecutionTrace) error {
	if tr == nil {
		return errors.New("nil trace")
	}
	body, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	spans := 0
	tr.Walk(func(*models.TraceSpan, int) { spans++ })

	_, err = db.ExecContext(ctx, `
		INSERT INTO traces (id, task_id, started_at, ended_at, duration_ms, span_count, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			ended_at = excluded.ended_at,
			duration_ms = excluded.duration_ms,
			span_count = excluded.span_count,
			body = excluded.body
	`, tr.ID, tr.TaskID, formatTime(tr.StartTime), formatTime(tr.EndTime), tr.DurationMs, spans, string(body))
	if err != nil {
		return fmt.Errorf("save trace %s: %w", tr.ID, err)
	}
	return nil
}

// Load returns a persisted trace, or nil, nil if it does not exist.
func (db *DB) Load(ctx context.Context, traceID string) (*models.ExecutionTrace, error) {
	var body string
	err := db.QueryRowContext(ctx, `SELECT body FROM traces WHERE id = ?`, traceID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load trace %s: %w", traceID, err)
	}

	var tr models.ExecutionTrace
	if err := json.Unmarshal([]byte(body), &tr); err != nil {
		return nil, fmt.Errorf("decode trace %s: %w", traceID, err)
	}
	return &tr, nil
}

// ListTraces returns the most recent traces first.
func (db *DB) ListTraces(ctx context.Context, limit int) ([]TraceSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, task_id, started_at, duration_ms, span_count
		FROM traces ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var out []TraceSummary
	for rows.Next() {
		var s TraceSummary
		var started string
		if err := rows.Scan(&s.ID, &s.TaskID, &started, &s.DurationMs, &s.SpanCount); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		if s.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
