package orchestrator

import (
	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/events"
	"github.com/ShayCichocki/orca/internal/executor"
	"github.com/ShayCichocki/orca/internal/planner"
	"github.com/ShayCichocki/orca/internal/trace"
)

// DefaultMaxParallel bounds concurrent sub-tasks under the parallel strategy.
const DefaultMaxParallel = 4

// RequiredConfig contains the collaborators every Orchestrator needs.
// All fields are required.
type RequiredConfig struct {
	Planner  *planner.Planner
	Executor *executor.Executor
	Budget   *budget.Manager
	Traces   *trace.Logger
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	maxParallel int
	logger      *zap.Logger
	sink        events.Sink
	store       ResultStore
}

// WithMaxParallel sets how many sub-tasks of one level run at once.
func WithMaxParallel(n int) Option {
	return func(o *orchestratorOptions) { o.maxParallel = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithSink receives progress events from every execution the orchestrator starts.
func WithSink(s events.Sink) Option {
	return func(o *orchestratorOptions) { o.sink = s }
}

// WithResultStore persists every final TaskResult returned by Run.
func WithResultStore(s ResultStore) Option {
	return func(o *orchestratorOptions) { o.store = s }
}
