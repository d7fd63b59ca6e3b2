package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/orca/pkg/models"
)

func sampleTrace() *models.ExecutionTrace {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	end := start.Add(40 * time.Millisecond)
	stepEnd := start.Add(15 * time.Millisecond)
	return &models.ExecutionTrace{
		ID:         "trace-1",
		TaskID:     "task-1",
		DurationMs: 40,
		BudgetUsed: &models.BudgetUsage{TokensUsed: 120, ToolCallsUsed: 1, CostUSD: 0.002},
		Spans: []*models.TraceSpan{{
			Name:      "execute",
			StartTime: start,
			EndTime:   &end,
			Events: []models.TraceEvent{
				{Type: "state_transition", Data: map[string]any{"to": "spec", "from": "init"}},
			},
			Children: []*models.TraceSpan{
				{
					Name:       "step",
					StartTime:  start,
					EndTime:    &stepEnd,
					Attributes: map[string]string{"tool": "echo", "index": "0"},
					Events: []models.TraceEvent{
						{Type: "tool_call", Data: map[string]any{"output": strings.Repeat("x", 200)}},
					},
				},
				{Name: "synthesize", StartTime: start},
			},
		}},
	}
}

func TestRenderTrace(t *testing.T) {
	out := RenderTrace(sampleTrace(), TreeOptions{MaxValueLen: 20})

	for _, want := range []string{
		"trace trace-1",
		"task=task-1 40ms",
		"tokens=120 tool_calls=1",
		"└─ execute",
		"├─ step",
		"[index=0 tool=echo]",
		"└─ synthesize",
		"open",
		"state_transition from=init to=spec",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, strings.Repeat("x", 30)) {
		t.Error("long event value not truncated")
	}

	lines := strings.Split(out, "\n")
	var stepLine string
	for _, l := range lines {
		if strings.Contains(l, "├─ step") {
			stepLine = l
		}
	}
	if !strings.HasPrefix(stepLine, "   ├─ ") {
		t.Errorf("child span not indented under its parent: %q", stepLine)
	}
}

func TestRenderTrace_HideEvents(t *testing.T) {
	out := RenderTrace(sampleTrace(), TreeOptions{HideEvents: true})
	if strings.Contains(out, "tool_call") {
		t.Errorf("events rendered with HideEvents:\n%s", out)
	}
}

func TestRenderTrace_Nil(t *testing.T) {
	if got := RenderTrace(nil, TreeOptions{}); got != "(no trace)\n" {
		t.Errorf("RenderTrace(nil) = %q", got)
	}
}
