// Package planner wraps each model-mediated planning operation in one model
// call with a strict JSON contract and a deterministic local fallback.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/provider"
	"github.com/ShayCichocki/orca/internal/router"
	"github.com/ShayCichocki/orca/internal/tools"
	"github.com/ShayCichocki/orca/internal/trace"
	"github.com/ShayCichocki/orca/pkg/models"
)

// ErrNoEscalation is returned by Replan when the envelope cannot pay for it.
var ErrNoEscalation = errors.New("no escalation budget for replan")

// Intents label model calls for routing and tracing.
const (
	IntentSpec       = "spec"
	IntentClassify   = "classify"
	IntentPlan       = "plan"
	IntentCritique   = "critique"
	IntentReplan     = "replan"
	IntentSynthesize = "synthesize"
	IntentDecompose  = "decompose"
)

const (
	fallbackComplexity = 0.5
	fallbackConfidence = 0.7
	// MaxSynthesisOutput bounds each step output passed to synthesis.
	MaxSynthesisOutput = 2000
)

// Call carries the per-execution context of one planner operation.
type Call struct {
	EnvelopeID string
	TraceID    string
	// Complexity and Confidence feed routing; nil means unknown.
	Complexity *float64
	Confidence *float64
}

// Planner issues planning model calls. It holds no per-execution state and
// is safe for concurrent use.
type Planner struct {
	router *router.Router
	tools  *tools.Registry
	budget *budget.Manager
	traces *trace.Logger
	energy budget.EnergyConfig
	logger *zap.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l.Named("planner")
		}
	}
}

// WithEnergy enables energy accounting for model calls.
func WithEnergy(cfg budget.EnergyConfig) Option {
	return func(p *Planner) { p.energy = cfg }
}

// New creates a planner.
func New(r *router.Router, tr *tools.Registry, bm *budget.Manager, traces *trace.Logger, opts ...Option) *Planner {
	p := &Planner{
		router: r,
		tools:  tr,
		budget: bm,
		traces: traces,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// completion is one routed model call.
type completion struct {
	intent  string
	prompt  string
	history []models.Message
	pin     models.Tier
	onDelta func(string)
}

// complete routes, calls the provider, charges the envelope and records the
// call in the trace.
func (p *Planner) complete(ctx context.Context, call Call, c completion) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d, err := p.router.Route(router.Request{
		Intent:     c.intent,
		EnvelopeID: call.EnvelopeID,
		TraceID:    call.TraceID,
		Complexity: call.Complexity,
		Confidence: call.Confidence,
		PinTier:    c.pin,
	})
	if err != nil {
		return "", err
	}

	msgs := append(append([]models.Message(nil), c.history...), models.Message{Role: "user", Content: c.prompt})
	req := provider.ChatRequest{
		Intent:   c.intent,
		Model:    d.Model,
		Tier:     d.Tier,
		System:   systemPrompt,
		Messages: msgs,
	}

	var resp *provider.ChatResponse
	if c.onDelta != nil {
		resp, err = d.Provider.ChatStream(ctx, req, c.onDelta)
	} else {
		resp, err = d.Provider.Chat(ctx, req)
	}
	if err != nil {
		p.traceCall(call.TraceID, trace.ModelCall{
			Intent:   c.intent,
			Provider: d.Provider.Name(),
			Model:    d.Model,
			Tier:     d.Tier,
			Error:    err.Error(),
		})
		p.logger.Warn("model call failed",
			zap.String("intent", c.intent),
			zap.String("provider", d.Provider.Name()),
			zap.Error(err))
		return "", fmt.Errorf("%s call: %w", c.intent, err)
	}

	p.charge(call, c.intent, d.Tier, resp)
	p.traceCall(call.TraceID, trace.ModelCall{
		Intent:       c.intent,
		Provider:     d.Provider.Name(),
		Model:        resp.Model,
		Tier:         d.Tier,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      resp.CostUSD,
		LatencyMs:    resp.LatencyMs,
		FinishReason: resp.FinishReason,
	})
	return resp.Content, nil
}

func (p *Planner) charge(call Call, intent string, tier models.Tier, resp *provider.ChatResponse) {
	env := call.EnvelopeID
	if err := p.budget.DeductTokens(env, resp.Usage.InputTokens, resp.Usage.OutputTokens); err != nil {
		p.logger.Warn("deduct tokens", zap.Error(err))
	}
	if resp.CostUSD > 0 {
		if err := p.budget.DeductCost(env, resp.CostUSD); err != nil {
			p.logger.Warn("deduct cost", zap.Error(err))
		}
	}

	wh, carbon := p.energy.Estimate(tier, resp.Usage.Total())
	if wh == 0 && carbon == 0 {
		return
	}
	if err := p.budget.DeductEnergy(env, wh, carbon); err != nil {
		p.logger.Warn("deduct energy", zap.Error(err))
	}
	if p.traces != nil && call.TraceID != "" {
		p.traces.LogEnergyReport(call.TraceID, trace.EnergyReport{
			Intent:      intent,
			Tier:        tier,
			Tokens:      resp.Usage.Total(),
			EnergyWh:    wh,
			CarbonGrams: carbon,
		})
	}
}

func (p *Planner) traceCall(traceID string, c trace.ModelCall) {
	if p.traces != nil && traceID != "" {
		p.traces.LogModelCall(traceID, c)
	}
}

func (p *Planner) noteFallback(call Call, intent, reason, response string) {
	p.logger.Warn("unusable model response, using fallback",
		zap.String("intent", intent),
		zap.String("reason", reason),
		zap.String("response", preview(response)))
	if p.traces != nil && call.TraceID != "" {
		p.traces.Event(call.TraceID, trace.EventParseFallback, map[string]any{
			"intent": intent,
			"reason": reason,
		})
	}
}

// Spec restates the task as {goal, constraints, successCriteria}.
func (p *Planner) Spec(ctx context.Context, call Call, task models.Task) (ParseResult[models.TaskSpec], error) {
	out, err := p.complete(ctx, call, completion{
		intent:  IntentSpec,
		prompt:  fmt.Sprintf(specPrompt, task.Description),
		history: task.History,
	})
	if err != nil {
		return ParseResult[models.TaskSpec]{}, err
	}

	fb := models.TaskSpec{Goal: task.Description, Constraints: []string{}, SuccessCriteria: []string{}}

	var spec models.TaskSpec
	if err := decodeJSON(out, &spec); err != nil {
		p.noteFallback(call, IntentSpec, err.Error(), out)
		return fallback(fb, err.Error()), nil
	}
	if strings.TrimSpace(spec.Goal) == "" {
		p.noteFallback(call, IntentSpec, "empty goal", out)
		return fallback(fb, "empty goal"), nil
	}
	if spec.Constraints == nil {
		spec.Constraints = []string{}
	}
	if spec.SuccessCriteria == nil {
		spec.SuccessCriteria = []string{}
	}
	return parsed(spec), nil
}

// Classify estimates task complexity in [0,1].
func (p *Planner) Classify(ctx context.Context, call Call, task models.Task) (ParseResult[float64], error) {
	out, err := p.complete(ctx, call, completion{
		intent: IntentClassify,
		prompt: fmt.Sprintf(classifyPrompt, task.Description),
	})
	if err != nil {
		return ParseResult[float64]{}, err
	}

	var resp struct {
		Complexity *float64 `json:"complexity"`
	}
	if err := decodeJSON(out, &resp); err == nil && resp.Complexity != nil {
		return parsed(models.Clamp01(*resp.Complexity)), nil
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(out), 64); err == nil {
		return parsed(models.Clamp01(v)), nil
	}

	p.noteFallback(call, IntentClassify, "no complexity score", out)
	return fallback(fallbackComplexity, "no complexity score"), nil
}

// Plan produces an ordered step list using only tools the task allows.
func (p *Planner) Plan(ctx context.Context, call Call, task models.Task, spec models.TaskSpec) (ParseResult[models.Plan], error) {
	allowed := p.tools.Allowed(task.AllowedTools)
	out, err := p.complete(ctx, call, completion{
		intent: IntentPlan,
		prompt: fmt.Sprintf(planPrompt,
			spec.Goal,
			joinOrNone(spec.Constraints),
			joinOrNone(spec.SuccessCriteria),
			describeOrNone(p.tools, allowed)),
		history: task.History,
	})
	if err != nil {
		return ParseResult[models.Plan]{}, err
	}

	fb := models.Plan{Steps: []models.PlanStep{{Description: task.Description}}}

	plan, reason := p.parsePlan(out, allowed)
	if reason != "" {
		p.noteFallback(call, IntentPlan, reason, out)
		return fallback(fb, reason), nil
	}
	return parsed(plan), nil
}

// parsePlan decodes and sanitizes a step list. A non-empty reason means the
// response is unusable.
func (p *Planner) parsePlan(out string, allowed []string) (models.Plan, string) {
	var plan models.Plan
	if err := decodeJSON(out, &plan); err != nil {
		return models.Plan{}, err.Error()
	}

	allow := make(map[string]bool, len(allowed))
	for _, n := range allowed {
		allow[n] = true
	}

	var steps []models.PlanStep
	for _, s := range plan.Steps {
		if s.ToolName != "" && !allow[s.ToolName] {
			p.logger.Debug("dropping step with disallowed tool", zap.String("tool", s.ToolName))
			continue
		}
		s.Verify = normalizeVerify(s.Verify)
		steps = append(steps, s)
	}
	if len(steps) == 0 {
		return models.Plan{}, "no usable steps"
	}
	return models.Plan{Steps: steps}, ""
}

func normalizeVerify(v *models.VerifySpec) *models.VerifySpec {
	if v == nil || v.Type != models.VerifyOutputCheck || v.Assertion == "" {
		return nil
	}
	out := *v
	out.MaxRetries = max(out.MaxRetries, 0)
	return &out
}

// Critique scores a plan. Every score is clamped to [0,1] and there is one
// step confidence per step. On an unusable response all scores are 0.7.
func (p *Planner) Critique(ctx context.Context, call Call, spec models.TaskSpec, plan models.Plan) (ParseResult[models.PlanScore], error) {
	planJSON, _ := json.MarshalIndent(plan, "", "  ")
	out, err := p.complete(ctx, call, completion{
		intent: IntentCritique,
		prompt: fmt.Sprintf(critiquePrompt, spec.Goal, planJSON),
	})
	if err != nil {
		return ParseResult[models.PlanScore]{}, err
	}

	res := p.parseCritique(call, out, len(plan.Steps))
	if p.traces != nil && call.TraceID != "" {
		p.traces.Event(call.TraceID, trace.EventPlanCritique, map[string]any{
			"overall":  res.Value.Overall,
			"issues":   len(res.Value.Issues),
			"fallback": res.Fallback,
		})
	}
	return res, nil
}

func (p *Planner) parseCritique(call Call, out string, steps int) ParseResult[models.PlanScore] {
	var raw struct {
		Overall         *float64  `json:"overall"`
		StepConfidences []float64 `json:"stepConfidences"`
		Issues          []string  `json:"issues"`
	}
	err := decodeJSON(out, &raw)
	if err == nil && raw.Overall == nil {
		err = errors.New("missing overall score")
	}
	if err != nil {
		p.noteFallback(call, IntentCritique, err.Error(), out)
		return fallback(FallbackScore(steps), err.Error())
	}

	score := models.PlanScore{
		Overall:         models.Clamp01(*raw.Overall),
		StepConfidences: make([]float64, steps),
		Issues:          raw.Issues,
	}
	for i := range score.StepConfidences {
		if i < len(raw.StepConfidences) {
			score.StepConfidences[i] = models.Clamp01(raw.StepConfidences[i])
		} else {
			score.StepConfidences[i] = score.Overall
		}
	}
	if score.Issues == nil {
		score.Issues = []string{}
	}
	return parsed(score)
}

// FallbackScore is the critique used when the model response is unusable.
func FallbackScore(steps int) models.PlanScore {
	s := models.PlanScore{
		Overall:         fallbackConfidence,
		StepConfidences: make([]float64, steps),
		Issues:          []string{},
	}
	for i := range s.StepConfidences {
		s.StepConfidences[i] = fallbackConfidence
	}
	return s
}

// Replan asks for a recovery plan for a failed step. It charges exactly one
// escalation unit before the call and returns ErrNoEscalation without calling
// the model when the envelope cannot pay. The call itself runs on the LLM tier.
func (p *Planner) Replan(ctx context.Context, call Call, task models.Task, spec models.TaskSpec, failedIndex int, failed models.PlanStep, stepErr string, completed []models.StepResult) (ParseResult[models.Plan], error) {
	if !p.budget.TryDeductEscalation(call.EnvelopeID) {
		return ParseResult[models.Plan]{}, ErrNoEscalation
	}

	allowed := p.tools.Allowed(task.AllowedTools)
	out, err := p.complete(ctx, call, completion{
		intent: IntentReplan,
		prompt: fmt.Sprintf(replanPrompt,
			spec.Goal,
			failedIndex,
			failed.Description,
			failed.ToolName,
			stepErr,
			summarizeResults(completed, 300),
			describeOrNone(p.tools, allowed)),
		pin: models.TierLLM,
	})
	if err != nil {
		return ParseResult[models.Plan]{}, err
	}

	fb := models.Plan{Steps: []models.PlanStep{failed}}

	plan, reason := p.parsePlan(out, allowed)
	if reason != "" {
		p.noteFallback(call, IntentReplan, reason, out)
		return fallback(fb, reason), nil
	}
	return parsed(plan), nil
}

// Synthesize turns the step results into the final answer. When onDelta is
// non-nil the response is streamed through it.
func (p *Planner) Synthesize(ctx context.Context, call Call, task models.Task, results []models.StepResult, onDelta func(string)) (string, error) {
	return p.complete(ctx, call, completion{
		intent:  IntentSynthesize,
		prompt:  fmt.Sprintf(synthesizePrompt, task.Description, summarizeResults(results, MaxSynthesisOutput)),
		history: task.History,
		onDelta: onDelta,
	})
}

func summarizeResults(results []models.StepResult, maxOutput int) string {
	if len(results) == 0 {
		return "(none)\n"
	}
	var b strings.Builder
	for _, r := range results {
		tool := r.ToolName
		if tool == "" {
			tool = "reasoning"
		}
		if r.Success {
			fmt.Fprintf(&b, "[%d] %s: ok\n%s\n", r.StepIndex, tool, truncate(r.Output, maxOutput))
		} else {
			fmt.Fprintf(&b, "[%d] %s: failed: %s\n", r.StepIndex, tool, truncate(r.Error, maxOutput))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, "; ")
}

func describeOrNone(reg *tools.Registry, names []string) string {
	if len(names) == 0 {
		return "(no tools; use reasoning steps only)\n"
	}
	return reg.Describe(names)
}
