package trace

import (
	"context"
	"sync"

	"github.com/ShayCichocki/orca/pkg/models"
)

// Repository persists finished traces.
type Repository interface {
	Save(ctx context.Context, tr *models.ExecutionTrace) error
	// Load returns nil, nil when the trace does not exist.
	Load(ctx context.Context, traceID string) (*models.ExecutionTrace, error)
}

// MemoryRepository keeps finished traces in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	traces map[string]*models.ExecutionTrace
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{traces: make(map[string]*models.ExecutionTrace)}
}

func (r *MemoryRepository) Save(_ context.Context, tr *models.ExecutionTrace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces[tr.ID] = tr
	return nil
}

func (r *MemoryRepository) Load(_ context.Context, traceID string) (*models.ExecutionTrace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.traces[traceID], nil
}

// Len returns the number of stored traces.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.traces)
}
