// Package state provides SQLite-based persistence for Orca.
package state

import (
	"context"
	"io"

	"github.com/ShayCichocki/orca/pkg/models"
)

// TraceStore handles trace persistence. It satisfies trace.Repository.
type TraceStore interface {
	Save(ctx context.Context, tr *models.ExecutionTrace) error
	Load(ctx context.Context, traceID string) (*models.ExecutionTrace, error)
	ListTraces(ctx context.Context, limit int) ([]TraceSummary, error)
}

// RunStore handles task result persistence.
type RunStore interface {
	SaveRun(ctx context.Context, r *models.TaskResult) error
	GetRun(ctx context.Context, id string) (*models.TaskResult, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore composes the persistence interfaces used by the CLI.
type StateStore interface {
	io.Closer
	Migrator
	TraceStore
	RunStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore = (*DB)(nil)
	_ TraceStore = (*DB)(nil)
	_ RunStore   = (*DB)(nil)
)
