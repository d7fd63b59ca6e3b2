package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ShayCichocki/orca/pkg/models"
)

// SaveRun stores a task result. The embedded trace is dropped; it lives in
// the traces table under TraceID.
func (db *DB) SaveRun(ctx context.Context, r *models.TaskResult) error {
	if r == nil {
		return errors.New("nil result")
	}
	cp := *r
	cp.Trace = nil
	body, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, trace_id, status, result, tokens_used, cost, completed_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			tokens_used = excluded.tokens_used,
			cost = excluded.cost,
			completed_at = excluded.completed_at,
			body = excluded.body
	`, r.ID, r.TaskID, r.TraceID, string(r.Status), r.Result,
		r.BudgetUsed.TokensUsed, r.BudgetUsed.CostUSD, formatTime(r.CompletedAt), string(body))
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun returns a stored task result, or nil, nil if it does not exist.
func (db *DB) GetRun(ctx context.Context, id string) (*models.TaskResult, error) {
	var body string
	err := db.QueryRowContext(ctx, `SELECT body FROM runs WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}

	var r models.TaskResult
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &r, nil
}
