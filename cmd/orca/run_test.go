package main

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/config"
	"github.com/ShayCichocki/orca/internal/tui"
	"github.com/ShayCichocki/orca/pkg/models"
)

// overrideCmd binds the --max-* flags to fresh state for one test.
func overrideCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().Int64Var(&runMaxTokens, "max-tokens", 0, "")
	cmd.Flags().IntVar(&runMaxToolCalls, "max-tool-calls", 0, "")
	cmd.Flags().IntVar(&runMaxEscalations, "max-escalations", 0, "")
	cmd.Flags().Float64Var(&runMaxCost, "max-cost", 0, "")
	cmd.Flags().DurationVar(&runMaxLatency, "max-latency", 0, "")
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v) error = %v", args, err)
	}
	return cmd
}

func TestBudgetOverride(t *testing.T) {
	i64 := func(v int64) *int64 { return &v }
	i := func(v int) *int { return &v }
	f := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		args []string
		want *models.BudgetOverride
	}{
		{
			name: "no flags",
			want: nil,
		},
		{
			name: "tokens only",
			args: []string{"--max-tokens", "5000"},
			want: &models.BudgetOverride{MaxTokens: i64(5000)},
		},
		{
			name: "explicit zero is kept",
			args: []string{"--max-tool-calls", "0"},
			want: &models.BudgetOverride{MaxToolCalls: i(0)},
		},
		{
			name: "all limits",
			args: []string{
				"--max-tokens", "100",
				"--max-tool-calls", "2",
				"--max-escalations", "1",
				"--max-cost", "0.5",
				"--max-latency", "1m30s",
			},
			want: &models.BudgetOverride{
				MaxTokens:      i64(100),
				MaxToolCalls:   i(2),
				MaxEscalations: i(1),
				CostCeilingUSD: f(0.5),
				MaxLatencyMs:   i64(90000),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := budgetOverride(overrideCmd(t, tt.args...))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("budgetOverride() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func sampleTrace() *models.ExecutionTrace {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	end := start.Add(250 * time.Millisecond)
	return &models.ExecutionTrace{
		ID:         "trace-1",
		TaskID:     "task-1",
		StartTime:  start,
		EndTime:    end,
		DurationMs: 250,
		Spans: []*models.TraceSpan{{
			ID:         "span-1",
			Name:       "run",
			StartTime:  start,
			EndTime:    &end,
			Attributes: map[string]string{"task_id": "task-1"},
		}},
	}
}

func TestFormatTrace(t *testing.T) {
	tr := sampleTrace()

	t.Run("tree", func(t *testing.T) {
		got, err := formatTrace(tr, "tree", tui.TreeOptions{})
		if err != nil {
			t.Fatalf("formatTrace() error = %v", err)
		}
		if want := tui.RenderTrace(tr, tui.TreeOptions{}); got != want {
			t.Errorf("formatTrace(tree) = %q, want %q", got, want)
		}
	})

	t.Run("json", func(t *testing.T) {
		got, err := formatTrace(tr, "json", tui.TreeOptions{})
		if err != nil {
			t.Fatalf("formatTrace() error = %v", err)
		}
		var back models.ExecutionTrace
		if err := json.Unmarshal([]byte(got), &back); err != nil {
			t.Fatalf("output is not JSON: %v", err)
		}
		if back.ID != tr.ID || len(back.Spans) != 1 {
			t.Errorf("decoded trace = %+v", back)
		}
	})

	t.Run("yaml uses json field names", func(t *testing.T) {
		got, err := formatTrace(tr, "yaml", tui.TreeOptions{})
		if err != nil {
			t.Fatalf("formatTrace() error = %v", err)
		}
		for _, want := range []string{"task_id: task-1", "duration_ms: 250", "name: run"} {
			if !strings.Contains(got, want) {
				t.Errorf("yaml output missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := formatTrace(tr, "xml", tui.TreeOptions{}); err == nil {
			t.Error("formatTrace(xml) error = nil, want error")
		}
	})
}

func TestRenderConfig_MasksKeys(t *testing.T) {
	c := config.Default()
	c.Providers.Anthropic.APIKey = "sk-ant-REDACTED"

	out, err := renderConfig(c)
	if err != nil {
		t.Fatalf("renderConfig() error = %v", err)
	}
	if strings.Contains(out, "abcdefghijklmnop") {
		t.Errorf("renderConfig() leaked the key:\n%s", out)
	}
	if !strings.Contains(out, config.MaskAPIKey(c.Providers.Anthropic.APIKey)) {
		t.Errorf("renderConfig() missing masked key:\n%s", out)
	}
	if c.Providers.Anthropic.APIKey != "sk-ant-REDACTED" {
		t.Error("renderConfig() modified its input")
	}
}

func TestRunHelp_PresetsExist(t *testing.T) {
	presets := budget.DefaultPresets(false)
	re := regexp.MustCompile(`orca run --preset (\S+)`)
	matches := re.FindAllStringSubmatch(runCmd.Long, -1)
	if len(matches) == 0 {
		t.Fatal("run help names no preset")
	}
	for _, m := range matches {
		if _, ok := presets[m[1]]; !ok {
			t.Errorf("run help names unknown preset %q", m[1])
		}
	}
}
