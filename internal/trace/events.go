package trace

import (
	"github.com/ShayCichocki/orca/pkg/models"
)

// Event types recorded by the kernel.
const (
	EventStateTransition    = "state_transition"
	EventModelCall          = "model_call"
	EventToolCall           = "tool_call"
	EventRoutingDecision    = "routing_decision"
	EventBudgetCheckpoint   = "budget_checkpoint"
	EventEnergyReport       = "energy_report"
	EventPlanCritique       = "plan_critique"
	EventStepVerification   = "step_verification"
	EventVerificationFailed = "verification_failed"
	EventEscalation         = "escalation"
	EventReplan             = "replan"
	EventPolicyViolation    = "policy_violation"
	EventBudgetExhausted    = "budget_exhausted"
	EventDecomposition      = "decomposition"
	EventSubTaskStart       = "subtask_start"
	EventSubTaskComplete    = "subtask_complete"
	EventParseFallback      = "parse_fallback"
)

// ModelCall describes one model invocation.
type ModelCall struct {
	Intent       string
	Provider     string
	Model        string
	Tier         models.Tier
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	LatencyMs    int64
	FinishReason string
	Error        string
}

// ToolCall describes one tool invocation.
type ToolCall struct {
	StepIndex  int
	ToolName   string
	Args       map[string]any
	Success    bool
	DurationMs int64
	Output     string
	Error      string
}

// RoutingDecision describes one router choice.
type RoutingDecision struct {
	Intent     string
	Provider   string
	Model      string
	Tier       models.Tier
	Complexity float64
	Confidence float64
	Escalated  bool
	Reason     string
}

// EnergyReport describes energy attributed to one model call.
type EnergyReport struct {
	Intent      string
	Tier        models.Tier
	Tokens      int64
	EnergyWh    float64
	CarbonGrams float64
}

// maxOutputPreview bounds tool output stored in trace events.
const maxOutputPreview = 500

// LogModelCall records a model_call event on the open span.
func (l *Logger) LogModelCall(traceID string, c ModelCall) {
	data := map[string]any{
		"intent":        c.Intent,
		"provider":      c.Provider,
		"model":         c.Model,
		"tier":          string(c.Tier),
		"input_tokens":  c.InputTokens,
		"output_tokens": c.OutputTokens,
		"cost_usd":      c.CostUSD,
		"latency_ms":    c.LatencyMs,
		"finish_reason": c.FinishReason,
	}
	if c.Error != "" {
		data["error"] = c.Error
	}
	l.logQuiet(traceID, EventModelCall, data)
}

// LogToolCall records a tool_call event on the open span.
func (l *Logger) LogToolCall(traceID string, c ToolCall) {
	data := map[string]any{
		"step_index":  c.StepIndex,
		"tool":        c.ToolName,
		"success":     c.Success,
		"duration_ms": c.DurationMs,
		"output":      truncate(c.Output, maxOutputPreview),
	}
	if len(c.Args) > 0 {
		data["args"] = c.Args
	}
	if c.Error != "" {
		data["error"] = c.Error
	}
	l.logQuiet(traceID, EventToolCall, data)
}

// LogRoutingDecision records a routing_decision event on the open span.
func (l *Logger) LogRoutingDecision(traceID string, d RoutingDecision) {
	l.logQuiet(traceID, EventRoutingDecision, map[string]any{
		"intent":     d.Intent,
		"provider":   d.Provider,
		"model":      d.Model,
		"tier":       string(d.Tier),
		"complexity": d.Complexity,
		"confidence": d.Confidence,
		"escalated":  d.Escalated,
		"reason":     d.Reason,
	})
}

// LogBudgetCheckpoint records a budget_checkpoint event on the open span.
func (l *Logger) LogBudgetCheckpoint(traceID string, u models.BudgetUsage) {
	l.logQuiet(traceID, EventBudgetCheckpoint, map[string]any{
		"label":                 u.Label,
		"tokens_used":           u.TokensUsed,
		"tokens_remaining":      u.TokensRemaining,
		"tool_calls_used":       u.ToolCallsUsed,
		"escalations_used":      u.EscalationsUsed,
		"cost_usd":              u.CostUSD,
		"latency_ms":            u.LatencyMs,
		"escalations_remaining": u.EscalationsRemaining,
	})
}

// LogEnergyReport records an energy_report event on the open span.
func (l *Logger) LogEnergyReport(traceID string, r EnergyReport) {
	l.logQuiet(traceID, EventEnergyReport, map[string]any{
		"intent":       r.Intent,
		"tier":         string(r.Tier),
		"tokens":       r.Tokens,
		"energy_wh":    r.EnergyWh,
		"carbon_grams": r.CarbonGrams,
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
