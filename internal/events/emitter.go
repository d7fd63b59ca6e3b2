package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultBuffer is the channel capacity used by NewEmitter when size <= 0.
const DefaultBuffer = 64

// Emitter is a Sink backed by a buffered channel. Progress and chunk events
// are dropped when the reader falls behind; result events are never dropped
// while the emitter is open.
type Emitter struct {
	events  chan Event
	timeout time.Duration
	dropped atomic.Uint64
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithLogger sets the logger used to report dropped events.
func WithLogger(l *zap.Logger) EmitterOption {
	return func(e *Emitter) {
		if l != nil {
			e.logger = l.Named("events")
		}
	}
}

// WithDropTimeout sets how long Emit waits on a full channel before
// dropping a progress or chunk event.
func WithDropTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.timeout = d }
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(size int, opts ...EmitterOption) *Emitter {
	if size <= 0 {
		size = DefaultBuffer
	}
	e := &Emitter{
		events:  make(chan Event, size),
		timeout: 100 * time.Millisecond,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit sends an event. Emitting after Close is a no-op.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	select {
	case e.events <- ev:
		return
	default:
	}

	if ev.Type == TypeResult {
		e.events <- ev
		return
	}

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()
	select {
	case e.events <- ev:
	case <-timer.C:
		n := e.dropped.Add(1)
		if n%10 == 1 {
			e.logger.Warn("event channel full, dropping events",
				zap.Uint64("dropped", n),
				zap.String("type", string(ev.Type)))
		}
	}
}

// Events returns the receive side of the channel.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Dropped returns the number of events dropped so far.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close closes the channel. Further Emit calls are ignored.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
