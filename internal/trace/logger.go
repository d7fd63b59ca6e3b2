// Package trace records a nested span/event tree for every execution.
//
// Spans are kept in a per-trace arena (span ID -> span) with children held as
// ID lists, so the tree stays a plain acyclic index structure. A stack of open
// span IDs determines where new spans and events attach; the stack is always a
// strict ancestor chain.
package trace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/pkg/models"
)

var (
	// ErrUnknownTrace is returned for trace IDs that are not active.
	ErrUnknownTrace = errors.New("unknown trace")
	// ErrUnknownSpan is returned for span IDs not in the trace.
	ErrUnknownSpan = errors.New("unknown span")
	// ErrSpanEnded is returned when an event targets a span that has ended.
	ErrSpanEnded = errors.New("span already ended")
	// ErrNoOpenSpan is returned when an event has no span to attach to.
	ErrNoOpenSpan = errors.New("no open span")
)

type span struct {
	id         string
	name       string
	parentID   string
	start      time.Time
	end        *time.Time
	attributes map[string]string
	children   []string
	events     []models.TraceEvent
	otel       oteltrace.Span
}

type traceState struct {
	mu     sync.Mutex
	id     string
	taskID string
	start  time.Time
	spans  map[string]*span
	roots  []string
	stack  []string
}

// Logger owns the in-memory traces of running executions.
type Logger struct {
	mu     sync.RWMutex
	traces map[string]*traceState

	repo   Repository
	tracer oteltrace.Tracer
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithRepository enables best-effort persistence of finished traces.
func WithRepository(r Repository) Option {
	return func(l *Logger) { l.repo = r }
}

// WithTracer mirrors every span and event onto an OpenTelemetry tracer.
func WithTracer(t oteltrace.Tracer) Option {
	return func(l *Logger) { l.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(zl *zap.Logger) Option {
	return func(l *Logger) {
		if zl != nil {
			l.logger = zl.Named("trace")
		}
	}
}

// NewLogger creates a trace logger.
func NewLogger(opts ...Option) *Logger {
	l := &Logger{
		traces: make(map[string]*traceState),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateTrace opens a new in-memory trace with an empty span stack.
func (l *Logger) CreateTrace(taskID string) string {
	id := uuid.New().String()
	st := &traceState{
		id:     id,
		taskID: taskID,
		start:  l.now(),
		spans:  make(map[string]*span),
	}

	l.mu.Lock()
	l.traces[id] = st
	l.mu.Unlock()

	return id
}

func (l *Logger) state(traceID string) (*traceState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.traces[traceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrace, traceID)
	}
	return st, nil
}

// StartSpan opens a span as a child of the span on top of the stack, or as a
// root span when the stack is empty, and pushes it.
func (l *Logger) StartSpan(traceID, name string, attrs map[string]string) (string, error) {
	st, err := l.state(traceID)
	if err != nil {
		return "", err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s := &span{
		id:         uuid.New().String(),
		name:       name,
		start:      l.now(),
		attributes: attrs,
	}
	if n := len(st.stack); n > 0 {
		parent := st.spans[st.stack[n-1]]
		s.parentID = parent.id
		parent.children = append(parent.children, s.id)
	} else {
		st.roots = append(st.roots, s.id)
	}
	l.startOtel(st, s)

	st.spans[s.id] = s
	st.stack = append(st.stack, s.id)
	return s.id, nil
}

// EndSpan records the span's end time and pops it. Spans opened above it on
// the stack are ended first so the stack stays an ancestor chain.
func (l *Logger) EndSpan(traceID, spanID string) error {
	st, err := l.state(traceID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.spans[spanID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSpan, spanID)
	}

	pos := -1
	for i, id := range st.stack {
		if id == spanID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return fmt.Errorf("%w: %s", ErrSpanEnded, spanID)
	}

	now := l.now()
	for i := len(st.stack) - 1; i >= pos; i-- {
		l.endLocked(st.spans[st.stack[i]], now)
	}
	st.stack = st.stack[:pos]
	return nil
}

func (l *Logger) endLocked(s *span, at time.Time) {
	if s.end != nil {
		return
	}
	if at.Before(s.start) {
		at = s.start
	}
	s.end = &at
	if s.otel != nil {
		s.otel.End(oteltrace.WithTimestamp(at))
	}
}

// LogEvent appends an event to spanID, or to the span on top of the stack
// when spanID is empty. Events are never attached to an ended span.
func (l *Logger) LogEvent(traceID, spanID, eventType string, data map[string]any) error {
	st, err := l.state(traceID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if spanID == "" {
		if len(st.stack) == 0 {
			return ErrNoOpenSpan
		}
		spanID = st.stack[len(st.stack)-1]
	}
	s, ok := st.spans[spanID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSpan, spanID)
	}
	if s.end != nil {
		return fmt.Errorf("%w: %s", ErrSpanEnded, spanID)
	}

	ev := models.TraceEvent{Type: eventType, Timestamp: l.now(), Data: data}
	s.events = append(s.events, ev)
	if s.otel != nil {
		s.otel.AddEvent(eventType, oteltrace.WithTimestamp(ev.Timestamp), oteltrace.WithAttributes(attributesOf(data)...))
	}
	return nil
}

// logQuiet is LogEvent for the typed helpers: failures are logged, not returned.
func (l *Logger) logQuiet(traceID, eventType string, data map[string]any) {
	if err := l.LogEvent(traceID, "", eventType, data); err != nil {
		l.logger.Debug("event dropped",
			zap.String("trace", traceID),
			zap.String("type", eventType),
			zap.Error(err))
	}
}

// Event records an event on the open span, dropping it quietly if there is none.
func (l *Logger) Event(traceID, eventType string, data map[string]any) {
	l.logQuiet(traceID, eventType, data)
}

// Snapshot assembles the current tree without finalizing or evicting it.
func (l *Logger) Snapshot(traceID string) (*models.ExecutionTrace, error) {
	st, err := l.state(traceID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return l.assembleLocked(st, l.now()), nil
}

// GetTrace ends any open spans, assembles the final tree, attempts a
// best-effort persist, and evicts the in-memory state. Persistence failures
// are logged and never returned.
func (l *Logger) GetTrace(ctx context.Context, traceID string, budgetUsed *models.BudgetUsage) (*models.ExecutionTrace, error) {
	l.mu.Lock()
	st, ok := l.traces[traceID]
	if ok {
		delete(l.traces, traceID)
	}
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrace, traceID)
	}

	st.mu.Lock()
	now := l.now()
	for i := len(st.stack) - 1; i >= 0; i-- {
		l.endLocked(st.spans[st.stack[i]], now)
	}
	st.stack = nil
	tr := l.assembleLocked(st, now)
	st.mu.Unlock()

	if budgetUsed != nil {
		u := *budgetUsed
		tr.BudgetUsed = &u
	}

	if l.repo != nil {
		if err := l.repo.Save(ctx, tr); err != nil {
			l.logger.Warn("trace persist failed", zap.String("trace", traceID), zap.Error(err))
		}
	}
	return tr, nil
}

// LoadTrace returns an active trace snapshot, or a persisted trace from the
// repository. Returns nil, nil when neither has it.
func (l *Logger) LoadTrace(ctx context.Context, traceID string) (*models.ExecutionTrace, error) {
	if tr, err := l.Snapshot(traceID); err == nil {
		return tr, nil
	}
	if l.repo == nil {
		return nil, nil
	}
	return l.repo.Load(ctx, traceID)
}

// Active returns the number of traces still held in memory.
func (l *Logger) Active() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.traces)
}

// OpenSpans returns the IDs on the span stack, bottom first.
func (l *Logger) OpenSpans(traceID string) []string {
	st, err := l.state(traceID)
	if err != nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]string(nil), st.stack...)
}

func (l *Logger) assembleLocked(st *traceState, now time.Time) *models.ExecutionTrace {
	var build func(id string) *models.TraceSpan
	build = func(id string) *models.TraceSpan {
		s := st.spans[id]
		out := &models.TraceSpan{
			ID:         s.id,
			Name:       s.name,
			ParentID:   s.parentID,
			StartTime:  s.start,
			Attributes: s.attributes,
			Events:     append([]models.TraceEvent(nil), s.events...),
		}
		if s.end != nil {
			end := *s.end
			out.EndTime = &end
		}
		for _, child := range s.children {
			out.Children = append(out.Children, build(child))
		}
		return out
	}

	tr := &models.ExecutionTrace{
		ID:         st.id,
		TaskID:     st.taskID,
		StartTime:  st.start,
		EndTime:    now,
		DurationMs: now.Sub(st.start).Milliseconds(),
	}
	for _, root := range st.roots {
		tr.Spans = append(tr.Spans, build(root))
	}
	return tr
}
