// Package events carries execution progress to observers: a bounded channel
// for in-process consumers and a NATS publisher for remote ones.
package events

import (
	"time"

	"github.com/ShayCichocki/orca/pkg/models"
)

// Type is the kind of stream event.
type Type string

const (
	// TypeProgress reports a state change or a finished step.
	TypeProgress Type = "progress"
	// TypeChunk carries a fragment of the streamed synthesis.
	TypeChunk Type = "chunk"
	// TypeResult carries the final TaskResult. It is always the last event
	// of an execution.
	TypeResult Type = "result"
)

// Event is one stream event.
type Event struct {
	Type   Type   `json:"type"`
	TaskID string `json:"task_id"`
	// ParentTaskID is set for sub-task executions.
	ParentTaskID string `json:"parent_task_id,omitempty"`
	// State is the executor state for progress events.
	State string `json:"state,omitempty"`
	// Message is a short human-readable description.
	Message string             `json:"message,omitempty"`
	Step    *models.StepResult `json:"step,omitempty"`
	Chunk   string             `json:"chunk,omitempty"`
	Result  *models.TaskResult `json:"result,omitempty"`
	// Usage is the envelope usage when the event was produced.
	Usage     *models.BudgetUsage `json:"usage,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Sink receives events. Implementations must be safe for concurrent use and
// must not block the caller for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

type discard struct{}

func (discard) Emit(Event) {}

// Discard drops every event.
var Discard Sink = discard{}

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans each event out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	switch len(out) {
	case 0:
		return Discard
	case 1:
		return out[0]
	}
	return out
}
