package executor

import (
	"context"

	"github.com/ShayCichocki/orca/internal/events"
)

// ExecuteStream runs the task in a goroutine and returns its events. The
// channel carries progress and chunk events, then exactly one result event,
// then closes. The caller must drain it.
func (e *Executor) ExecuteStream(ctx context.Context, req Request) <-chan events.Event {
	em := events.NewEmitter(events.DefaultBuffer, events.WithLogger(e.logger))
	req.Sink = events.Multi(req.Sink, em)

	go func() {
		defer em.Close()
		_, _ = e.Execute(ctx, req)
	}()
	return em.Events()
}
