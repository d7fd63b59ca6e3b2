package models

import "time"

// TraceEvent is a point-in-time record attached to a span.
type TraceEvent struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// TraceSpan is a timed unit of work. Children are nested in start order.
type TraceSpan struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	ParentID   string            `json:"parent_id,omitempty"`
	StartTime  time.Time         `json:"start_time"`
	EndTime    *time.Time        `json:"end_time,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Events     []TraceEvent      `json:"events,omitempty"`
	Children   []*TraceSpan      `json:"children,omitempty"`
}

// ExecutionTrace is the provenance tree of one execution.
type ExecutionTrace struct {
	ID         string       `json:"id"`
	TaskID     string       `json:"task_id"`
	StartTime  time.Time    `json:"start_time"`
	EndTime    time.Time    `json:"end_time"`
	DurationMs int64        `json:"duration_ms"`
	Spans      []*TraceSpan `json:"spans"`
	BudgetUsed *BudgetUsage `json:"budget_used,omitempty"`
}

// Walk visits every span depth-first in recorded order.
func (t *ExecutionTrace) Walk(fn func(span *TraceSpan, depth int)) {
	var visit func(spans []*TraceSpan, depth int)
	visit = func(spans []*TraceSpan, depth int) {
		for _, s := range spans {
			fn(s, depth)
			visit(s.Children, depth+1)
		}
	}
	visit(t.Spans, 0)
}

// EventsOfType returns all events of the given type in span order.
func (t *ExecutionTrace) EventsOfType(eventType string) []TraceEvent {
	var out []TraceEvent
	t.Walk(func(span *TraceSpan, _ int) {
		for _, e := range span.Events {
			if e.Type == eventType {
				out = append(out, e)
			}
		}
	})
	return out
}
