package trace

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// startOtel mirrors a new span onto the configured tracer, parented to the
// mirrored span of its kernel parent. Must be called with st.mu held.
func (l *Logger) startOtel(st *traceState, s *span) {
	if l.tracer == nil {
		return
	}

	ctx := context.Background()
	if s.parentID != "" {
		if parent := st.spans[s.parentID]; parent != nil && parent.otel != nil {
			ctx = oteltrace.ContextWithSpan(ctx, parent.otel)
		}
	}

	attrs := []attribute.KeyValue{
		attribute.String("orca.trace_id", st.id),
		attribute.String("orca.task_id", st.taskID),
	}
	keys := make([]string, 0, len(s.attributes))
	for k := range s.attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(k, s.attributes[k]))
	}

	_, s.otel = l.tracer.Start(ctx, s.name,
		oteltrace.WithTimestamp(s.start),
		oteltrace.WithAttributes(attrs...))
}

// attributesOf converts event payloads to OTel attributes in key order.
func attributesOf(data map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := data[k].(type) {
		case string:
			out = append(out, attribute.String(k, v))
		case bool:
			out = append(out, attribute.Bool(k, v))
		case int:
			out = append(out, attribute.Int(k, v))
		case int64:
			out = append(out, attribute.Int64(k, v))
		case float64:
			out = append(out, attribute.Float64(k, v))
		case []string:
			out = append(out, attribute.StringSlice(k, v))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return out
}
