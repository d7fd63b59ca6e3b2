package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/orca/internal/events"
	"github.com/ShayCichocki/orca/pkg/models"
)

func TestLiveApp_AppliesEvents(t *testing.T) {
	app := NewLiveApp(nil)

	feed := []events.Event{
		{Type: events.TypeProgress, TaskID: "parent-task", State: "plan"},
		{Type: events.TypeProgress, TaskID: "sub-1", ParentTaskID: "parent-task", State: "execute_steps"},
		{Type: events.TypeProgress, TaskID: "sub-1", ParentTaskID: "parent-task",
			Step: &models.StepResult{StepIndex: 0, ToolName: "echo", Success: true}},
		{Type: events.TypeProgress, TaskID: "sub-1", ParentTaskID: "parent-task",
			Step: &models.StepResult{StepIndex: 1, ToolName: "read_file", Error: "no such file"}},
		{Type: events.TypeChunk, TaskID: "sub-1", ParentTaskID: "parent-task", Chunk: "ignored "},
		{Type: events.TypeChunk, TaskID: "parent-task", Chunk: "final "},
		{Type: events.TypeChunk, TaskID: "parent-task", Chunk: "answer"},
		{Type: events.TypeResult, TaskID: "sub-1", ParentTaskID: "parent-task",
			Result: &models.TaskResult{Status: models.TaskStatusCompleted}},
		{Type: events.TypeResult, TaskID: "parent-task", Result: &models.TaskResult{
			Status:     models.TaskStatusCompleted,
			Result:     "final answer",
			BudgetUsed: models.BudgetUsage{TokensUsed: 250, TokensRemaining: 750, CostUSD: 0.0123},
		}},
	}
	for _, ev := range feed {
		model, cmd := app.Update(EventMsg{Event: ev})
		if model != app {
			t.Fatal("Update returned a different model")
		}
		if cmd == nil {
			t.Fatal("Update did not schedule the next read")
		}
	}

	if app.Result() == nil || app.Result().Result != "final answer" {
		t.Fatalf("Result() = %+v, want the top-level result", app.Result())
	}
	if got := app.output.String(); got != "final answer" {
		t.Errorf("output = %q, want only top-level chunks", got)
	}
	if len(app.tasks) != 2 || app.tasks[1].parent != "parent-task" {
		t.Errorf("tasks = %+v", app.tasks)
	}
	if len(app.logs) != 2 {
		t.Errorf("logs = %d, want 2", len(app.logs))
	}

	view := app.View()
	for _, want := range []string{"sub-1", "read_file", "no such file", "250/1000", "25%", "final answer"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestLiveApp_LogWindow(t *testing.T) {
	app := NewLiveApp(nil)
	for i := 0; i < maxLogLines+3; i++ {
		app.apply(events.Event{Type: events.TypeProgress, TaskID: "t",
			Step: &models.StepResult{StepIndex: i, Success: true}})
	}
	if len(app.logs) != maxLogLines {
		t.Fatalf("logs = %d, want %d", len(app.logs), maxLogLines)
	}
	if !strings.Contains(app.logs[0], "step 3 reasoning") {
		t.Errorf("oldest kept line = %q", app.logs[0])
	}
}

func TestLiveApp_ReadsUntilClosed(t *testing.T) {
	ch := make(chan events.Event, 1)
	app := NewLiveApp(ch)

	ch <- events.Event{Type: events.TypeProgress, TaskID: "t", State: "spec"}
	if msg, ok := app.waitForEvent().(EventMsg); !ok || msg.Event.State != "spec" {
		t.Fatalf("waitForEvent() = %#v", msg)
	}

	close(ch)
	msg := app.waitForEvent()
	if _, ok := msg.(streamClosedMsg); !ok {
		t.Fatalf("waitForEvent() after close = %#v", msg)
	}
	_, cmd := app.Update(msg)
	if cmd == nil || !app.done {
		t.Error("closed stream did not finish the program")
	}
}

func TestLiveApp_Quit(t *testing.T) {
	app := NewLiveApp(nil)
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil || !app.Quit() {
		t.Error("q did not quit")
	}
	if !strings.Contains(app.View(), "Stopping run") {
		t.Errorf("quit view = %q", app.View())
	}
}

func TestRenderProgressBar(t *testing.T) {
	app := NewLiveApp(nil)
	tests := []struct {
		pct  float64
		want string
	}{
		{-5, "0%"},
		{50, "50%"},
		{150, "100%"},
	}
	for _, tt := range tests {
		if got := app.renderProgressBar(tt.pct, 10); !strings.HasSuffix(got, tt.want) {
			t.Errorf("renderProgressBar(%v) = %q, want suffix %q", tt.pct, got, tt.want)
		}
	}
}
