// Package tui provides the terminal views of the orca CLI.
//
// LiveApp is a read-only bubbletea program that follows the stream events
// of one run: executor state per task, finished steps, the streamed
// synthesis and a token budget bar. Users can only quit with 'q' or Ctrl+C.
//
// Usage:
//
//	emitter := events.NewEmitter(events.DefaultBuffer)
//	program, app := tui.NewLiveProgram(emitter.Events())
//	go func() {
//	    orch.Run(ctx, task)
//	    emitter.Close()
//	}()
//	program.Run()
//	res := app.Result()
//
// RenderTrace draws a finished ExecutionTrace as an indented span tree.
package tui
