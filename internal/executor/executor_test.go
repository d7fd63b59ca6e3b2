package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/events"
	"github.com/ShayCichocki/orca/internal/planner"
	"github.com/ShayCichocki/orca/internal/provider"
	"github.com/ShayCichocki/orca/internal/provider/providertest"
	"github.com/ShayCichocki/orca/internal/router"
	"github.com/ShayCichocki/orca/internal/tools"
	"github.com/ShayCichocki/orca/internal/trace"
	"github.com/ShayCichocki/orca/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// toolReply is one scripted tool outcome.
type toolReply struct {
	out string
	err error
}

// scriptedTool answers from replies in order; the last reply repeats.
type scriptedTool struct {
	mu      sync.Mutex
	replies []toolReply
	calls   int
}

func (s *scriptedTool) tool(name string) tools.Tool {
	return tools.Tool{
		Name:        name,
		Description: "scripted " + name,
		Handler: func(context.Context, map[string]any) (string, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			r := s.replies[min(s.calls, len(s.replies)-1)]
			s.calls++
			return r.out, r.err
		},
	}
}

func (s *scriptedTool) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errTool = errors.New("tool exploded")

type harness struct {
	exec   *Executor
	prov   *providertest.Provider
	budget *budget.Manager
	traces *trace.Logger
}

type harnessOpts struct {
	replanDepth *int
	policy      PolicyChecker
}

func newHarness(t *testing.T, replies map[string][]providertest.Reply, tl []tools.Tool, o harnessOpts) harness {
	t.Helper()

	base := map[string][]providertest.Reply{
		planner.IntentSpec:       {{Content: `{"goal": "do the thing"}`}},
		planner.IntentClassify:   {{Content: `{"complexity": 0.2}`}},
		planner.IntentCritique:   {{Content: `{"overall": 0.9}`}},
		planner.IntentSynthesize: {{Content: "all done here"}},
	}
	for k, v := range replies {
		base[k] = v
	}

	bm := budget.NewManager()
	traces := trace.NewLogger()
	prov := providertest.New("p", providertest.Sequence(base))
	cfg := router.DefaultConfig()
	if o.replanDepth != nil {
		cfg.MaxReplanDepth = *o.replanDepth
	}
	r := router.New(cfg, provider.NewRegistry(prov), bm, traces)
	reg := tools.NewRegistry(tl...)
	p := planner.New(r, reg, bm, traces)

	exec, err := New(Config{
		Planner: p,
		Tools:   reg,
		Budget:  bm,
		Traces:  traces,
		Router:  r,
		Policy:  o.policy,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return harness{exec: exec, prov: prov, budget: bm, traces: traces}
}

func (h harness) envelope(limits models.BudgetEnvelope) string {
	if limits.MaxLatencyMs == 0 {
		limits.MaxLatencyMs = 60000
	}
	if limits.CostCeilingUSD == 0 {
		limits.CostCeilingUSD = 1
	}
	return h.budget.CreateEnvelopeFrom(limits)
}

func roomy() models.BudgetEnvelope {
	return models.BudgetEnvelope{MaxTokens: 100000, MaxToolCalls: 20, MaxEscalations: 3}
}

func planReply(steps string) []providertest.Reply {
	return []providertest.Reply{{Content: `{"steps": ` + steps + `}`}}
}

func countEvents(res *models.TaskResult, eventType string) int {
	return len(res.Trace.EventsOfType(eventType))
}

func transitions(res *models.TaskResult) []string {
	var out []string
	for _, ev := range res.Trace.EventsOfType(trace.EventStateTransition) {
		out = append(out, ev.Data["to"].(string))
	}
	return out
}

var task = models.Task{ID: "task-1", Description: "Echo hello back to me"}

func TestExecute_Completed(t *testing.T) {
	echo := &scriptedTool{replies: []toolReply{{out: "hello"}}}
	h := newHarness(t, map[string][]providertest.Reply{
		planner.IntentPlan: planReply(`[{"description": "say hello", "toolName": "echo"}, {"description": "reflect"}]`),
	}, []tools.Tool{echo.tool("echo")}, harnessOpts{})

	res, err := h.exec.Execute(context.Background(), Request{Task: task, EnvelopeID: h.envelope(roomy())})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.TaskStatusCompleted || res.Result != "all done here" {
		t.Errorf("status = %s, result = %q", res.Status, res.Result)
	}

	want := []models.StepResult{
		{StepIndex: 0, ToolName: "echo", Output: "hello", Success: true},
		{StepIndex: 1, Output: "reflect", Success: true},
	}
	ignoreDuration := cmp.FilterPath(func(p cmp.Path) bool { return p.Last().String() == ".DurationMs" }, cmp.Ignore())
	if diff := cmp.Diff(want, res.StepResults, ignoreDuration); diff != "" {
		t.Errorf("step results mismatch (-want +got):\n%s", diff)
	}
	if echo.Calls() != 1 {
		t.Errorf("tool calls = %d, want 1", echo.Calls())
	}

	wantStates := []string{"spec", "classify", "plan", "critique", "execute", "synthesize", "completed"}
	if diff := cmp.Diff(wantStates, transitions(res)); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	wantIntents := []string{"spec", "classify", "plan", "critique", "synthesize"}
	if diff := cmp.Diff(wantIntents, h.prov.Intents()); diff != "" {
		t.Errorf("intents mismatch (-want +got):\n%s", diff)
	}
	if res.BudgetUsed.ToolCallsUsed != 1 || res.BudgetUsed.TokensUsed != 75 {
		t.Errorf("usage = %+v", res.BudgetUsed)
	}
	if h.traces.Active() != 0 {
		t.Errorf("Active() = %d, want 0", h.traces.Active())
	}
}

func TestExecute_KnownComplexitySkipsClassify(t *testing.T) {
	h := newHarness(t, map[string][]providertest.Reply{
		planner.IntentPlan: planReply(`[{"description": "think"}]`),
	}, nil, harnessOpts{})

	c := 0.3
	res, err := h.exec.Execute(context.Background(), Request{Task: task, EnvelopeID: h.envelope(roomy()), Complexity: &c})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for _, intent := range h.prov.Intents() {
		if intent == planner.IntentClassify {
			t.Error("classify called with known complexity")
		}
	}
	if res.Status != models.TaskStatusCompleted {
		t.Errorf("Status = %s", res.Status)
	}
}

func TestExecute_ReplanRecovers(t *testing.T) {
	flaky := &scriptedTool{replies: []toolReply{{err: errTool}, {out: "ok"}}}
	h := newHarness(t, map[string][]providertest.Reply{
		planner.IntentPlan:   planReply(`[{"description": "try", "toolName": "flaky"}]`),
		planner.IntentReplan: planReply(`[{"description": "try again", "toolName": "flaky"}]`),
	}, []tools.Tool{flaky.tool("flaky")}, harnessOpts{})
	env := h.envelope(roomy())

	res, err := h.exec.Execute(context.Background(), Request{Task: task, EnvelopeID: env})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.TaskStatusCompleted {
		t.Fatalf("Status = %s", res.Status)
	}
	if n := countEvents(res, trace.EventEscalation); n != 1 {
		t.Errorf("escalation events = %d, want 1", n)
	}
	replans := res.Trace.EventsOfType(trace.EventReplan)
	if len(replans) != 1 {
		t.Fatalf("replan events = %d, want 1", len(replans))
	}
	if idx := replans[0].Data["step_index"]; idx != 0 {
		t.Errorf("replan step_index = %v, want 0", idx)
	}

	var success []bool
	for _, sr := range res.StepResults {
		success = append(success, sr.Success)
	}
	if diff := cmp.Diff([]bool{false, true}, success); diff != "" {
		t.Errorf("step success mismatch (-want +got):\n%s", diff)
	}
	if res.BudgetUsed.EscalationsUsed != 1 {
		t.Errorf("EscalationsUsed = %d, want 1", res.BudgetUsed.EscalationsUsed)
	}
}

func TestExecute_ReplanDepthBound(t *testing.T) {
	broken := &scriptedTool{replies: []toolReply{{err: errTool}}}
	depth := 1
	h := newHarness(t, map[string][]providertest.Reply{
		planner.IntentPlan:   planReply(`[{"description": "try", "toolName": "broken"}]`),
		planner.IntentReplan: planReply(`[{"description": "try again", "toolName": "broken"}]`),
	}, []tools.Tool{broken.tool("broken")}, harnessOpts{replanDepth: &depth})

	res, err := h.exec.Execute(context.Background(), Request{Task: task, EnvelopeID: h.envelope(roomy())})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Status != models.TaskStatusCompleted {
		t.Errorf("Status = %s", res.Status)
	}
	if n := countEvents(res, trace.EventReplan); n != 1 {
		t.Errorf("replan events = %d, want 1", n)
	}
	if len(res.StepResults) != 2 || res.FailedSteps() != 2 {
		t.Errorf("step results = %+v, want two failures", res.StepResults)
	}
}

func TestExecute_NoEscalationBudgetSkipsReplan(t *testing.T) {
	broken := &scriptedTool{replies: []toolReply{{err: errTool}}}
	h := newHarness(t, map[string][]providertest.Reply{
		planner.IntentPlan: planReply(`[{"description": "try", "toolName": "broken"}]`),
	}, []tools.Tool{broken.tool("broken")}, harnessOpts{})
	limits := roomy()
	limits.MaxEscalations = 0

	res, err := h.exec.Execute(context.Background(), Request{Task: task, EnvelopeID: h.envelope(limits)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if countEvents(res, trace.EventEscalation) != 0 || countEvents(res, trace.EventReplan) != 0 {
		t.Error("recovery attempted without escalation budget")
	}
	if res.Status != models.TaskStatusCompleted || res.FailedSteps() != 1 {
		t.Errorf("status = %s, failed = %d", res.Status, res.FailedSteps())
	}
}

func TestExecute_Verification(t *testing.T) {
	tests := []struct {
		name         string
		verify       string
		replies      []toolReply
		wantPassed   []bool
		wantFailed   int
		wantAttempts int
	}{
		{
			name:         "matching substring",
			verify:       `{"type": "output_check", "assertion": "world"}`,
			replies:      []toolReply{{out: "hello world"}},
			wantPassed:   []bool{true},
			wantAttempts: 1,
		},
		{
			name:         "matching regex",
			verify:       `{"type": "output_check", "assertion": "^count: [0-9]+$"}`,
			replies:      []toolReply{{out: "count: 42"}},
			wantPassed:   []bool{true},
			wantAttempts: 1,
		},
		{
			name:         "mismatch without retry",
			verify:       `{"type": "output_check", "assertion": "world"}`,
			replies:      []toolReply{{out: "hello"}},
			wantPassed:   []bool{false},
			wantFailed:   1,
			wantAttempts: 1,
		},
		{
			name:         "retry until pass",
			verify:       `{"type": "output_check", "assertion": "ready", "retryOnFail": true, "maxRetries": 3}`,
			replies:      []toolReply{{out: "pending"}, {out: "pending"}, {out: "ready"}},
			wantPassed:   []bool{false, false, true},
			wantAttempts: 3,
		},
		{
			name:         "retries exhausted",
			verify:       `{"type": "output_check", "assertion": "ready", "retryOnFail": true, "maxRetries": 2}`,
			replies:      []toolReply{{out: "pending"}},
			wantPassed:   []bool{false, false, false},
			wantFailed:   1,
			wantAttempts: 3,
		},
		{
			name:         "retry count above five honored",
			verify:       `{"type": "output_check", "assertion": "ready", "retryOnFail": true, "maxRetries": 7}`,
			replies:      []toolReply{{out: "pending"}},
			wantPassed:   []bool{false, false, false, false, false, false, false, false},
			wantFailed:   1,
			wantAttempts: 8,
		},
		{
			name:         "zero retries runs once",
			verify:       `{"type": "output_check", "assertion": "ready", "retryOnFail": true, "maxRetries": 0}`,
			replies:      []toolReply{{out: "pending"}},
			wantPassed:   []bool{false},
			wantFailed:   1,
			wantAttempts: 1,
		},
		{
			name:         "no verification",
			verify:       `{"type": "none"}`,
			replies:      []toolReply{{out: "anything"}},
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checked := &scriptedTool{replies: tt.replies}
			h := newHarness(t, map[string][]providertest.Reply{
				planner.IntentPlan: planReply(`[{"description": "check", "toolName": "check", "verify": ` + tt.verify + `}]`),
			}, []tools.Tool{checked.tool("check")}, harnessOpts{})

			res, err := h.exec.Execute(context.Background(), Request{Task: task, EnvelopeID: h.envelope(roomy())})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Status != models.TaskStatusCompleted {
				t.Errorf("Status = %s", res.Status)
			}

			var passed []bool
			for _, ev := range res.Trace.EventsOfType(trace.EventStepVerification) {
				passed = append(passed, ev.Data["passed"].(bool))
			}
			if diff := cmp.Diff(tt.wantPassed, passed); diff != "" {
				t.Errorf("verification results mismatch (-want +got):\n%s", diff)
			}
			if n := countEvents(res, trace.EventVerificationFailed); n != tt.wantFailed {
				t.Errorf("verification_failed events = %d, want %d", n, tt.wantFailed)
			}
			if checked.Calls() != tt.wantAttempts || len(res.StepResults) != tt.wantAttempts {
				t.Errorf("tool calls = %d, step results = %d, want %d", checked.Calls(), len(res.StepResults), tt.wantAttempts)
			}
		})
	}
}

func TestExecute_BudgetExhausted(t *testing.T) {
	t.Run("tokens after spec", func(t *testing.T) {
		h := newHarness(t, nil, nil, harnessOpts{})
		limits := roomy()
		limits.MaxTokens = 15

		res, err := h.exec.Execute(context.Background(), Request{Task: task, EnvelopeID: h.envelope(limits)})
		ex, ok := budget.AsExhausted(err)
		if !ok || ex.Resource != models.ResourceTokens {
			t.Fatalf("err = %v, want tokens exhaustion", err)
		}
		if res.Status != models.TaskStatusBudgetExhausted {
			t.Errorf("Status = %s", res.Status)
		}
		if diff := cmp.Diff([]string{"spec"}, h.prov.Intents()); diff != "" {
			t.Errorf("intents mismatch (-want +got):\n%s", diff)
		}
		if countEvents(res, trace.EventBudgetExhausted) != 1 {
			t.Error("missing budget_exhausted event")
		}
	})

	t.Run("tool calls", func(t *testing.T) {
		echo := &scriptedTool{replies: []toolReply{{out: "x"}}}
		h := newHarness(t, map[string][]providertest.Reply{
			planner.IntentPlan: planReply(`[{"description": "a", "toolName": "echo"}, {"description": "b", "toolName": "echo"}]`),
		}, []tools.Tool{echo.tool("echo")}, harnessOpts{})
		limits := roomy()
		limits.MaxToolCalls = 1

		res, err := h.exec.Execute(context.Background(), Request{Task: task, EnvelopeID: h.envelope(limits)})
		ex, ok := budget.AsExhausted(err)
		if !ok || ex.Resource != models.ResourceToolCalls {
			t.Fatalf("err = %v, want toolCalls exhaustion", err)
		}
		if res.Status != models.TaskStatusBudgetExhausted || len(res.StepResults) != 1 {
			t.Errorf("status = %s, steps = %d", res.Status, len(res.StepResults))
		}
		if echo.Calls() != 1 {
			t.Errorf("tool calls = %d, want 1", echo.Calls())
		}
	})
}

func TestExecute_Policy(t *testing.T) {
	plan := planReply(`[{"description": "rm", "toolName": "danger"}]`)

	t.Run("critical aborts", func(t *testing.T) {
		danger := &scriptedTool{replies: []toolReply{{out: "gone"}}}
		h := newHarness(t, map[string][]providertest.Reply{planner.IntentPlan: plan},
			[]tools.Tool{danger.tool("danger")}, harnessOpts{policy: DenyTools("danger")})

		res, err := h.exec.Execute(context.Background(), Request{Task: task, EnvelopeID: h.envelope(roomy())})
		if !errors.Is(err, ErrPolicyViolation) {
			t.Fatalf("err = %v, want ErrPolicyViolation", err)
		}
		if res.Status != models.TaskStatusFailed || danger.Calls() != 0 {
			t.Errorf("status = %s, tool calls = %d", res.Status, danger.Calls())
		}
		if countEvents(res, trace.EventPolicyViolation) != 1 {
			t.Error("missing policy_violation event")
		}
	})

	t.Run("non-critical recorded", func(t *testing.T) {
		danger := &scriptedTool{replies: []toolReply{{out: "gone"}}}
		warn := PolicyFunc(func(context.Context, models.Task, models.PlanStep) ([]Violation, error) {
			return []Violation{{Rule: "audit", Message: "logged"}}, nil
		})
		h := newHarness(t, map[string][]providertest.Reply{planner.IntentPlan: plan},
			[]tools.Tool{danger.tool("danger")}, harnessOpts{policy: warn})

		res, err := h.exec.Execute(context.Background(), Request{Task: task, EnvelopeID: h.envelope(roomy())})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if danger.Calls() != 1 || countEvents(res, trace.EventPolicyViolation) != 1 {
			t.Errorf("tool calls = %d, violations = %d", danger.Calls(), countEvents(res, trace.EventPolicyViolation))
		}
	})
}

func TestExecute_Failures(t *testing.T) {
	t.Run("canceled context", func(t *testing.T) {
		h := newHarness(t, nil, nil, harnessOpts{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := h.exec.Execute(ctx, Request{Task: task, EnvelopeID: h.envelope(roomy())})
		if !errors.Is(err, context.Canceled) || res.Status != models.TaskStatusFailed {
			t.Errorf("err = %v, status = %s", err, res.Status)
		}
		if res.Trace == nil {
			t.Error("trace missing on canceled run")
		}
	})

	t.Run("synthesis error", func(t *testing.T) {
		h := newHarness(t, map[string][]providertest.Reply{
			planner.IntentPlan:       planReply(`[{"description": "think"}]`),
			planner.IntentSynthesize: {{Err: providertest.ErrScripted}},
		}, nil, harnessOpts{})

		res, err := h.exec.Execute(context.Background(), Request{Task: task, EnvelopeID: h.envelope(roomy())})
		if !errors.Is(err, providertest.ErrScripted) || res.Status != models.TaskStatusFailed {
			t.Errorf("err = %v, status = %s", err, res.Status)
		}
		if len(res.StepResults) != 1 {
			t.Errorf("step results = %d, want 1", len(res.StepResults))
		}
	})

	t.Run("unknown preset", func(t *testing.T) {
		h := newHarness(t, nil, nil, harnessOpts{})
		tk := task
		tk.Budget = models.BudgetRequest{Preset: "enormous"}

		res, err := h.exec.Execute(context.Background(), Request{Task: tk})
		if !errors.Is(err, budget.ErrUnknownPreset) || res.Status != models.TaskStatusFailed {
			t.Errorf("err = %v, status = %s", err, res.Status)
		}
	})
}

func TestExecute_OwnedEnvelopeReleased(t *testing.T) {
	h := newHarness(t, map[string][]providertest.Reply{
		planner.IntentPlan: planReply(`[{"description": "think"}]`),
	}, nil, harnessOpts{})

	res, err := h.exec.Execute(context.Background(), Request{Task: task})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.BudgetUsed.EnvelopeID == "" {
		t.Fatal("usage has no envelope ID")
	}
	if _, err := h.budget.Usage(res.BudgetUsed.EnvelopeID); !errors.Is(err, budget.ErrUnknownEnvelope) {
		t.Errorf("Usage after run: err = %v, want ErrUnknownEnvelope", err)
	}
}

func TestExecuteStream(t *testing.T) {
	h := newHarness(t, map[string][]providertest.Reply{
		planner.IntentPlan: planReply(`[{"description": "think"}]`),
	}, nil, harnessOpts{})

	var (
		chunks strings.Builder
		states []string
		last   events.Event
		n      int
	)
	for ev := range h.exec.ExecuteStream(context.Background(), Request{Task: task, EnvelopeID: h.envelope(roomy())}) {
		n++
		last = ev
		switch ev.Type {
		case events.TypeChunk:
			chunks.WriteString(ev.Chunk)
		case events.TypeProgress:
			if ev.Step == nil {
				states = append(states, ev.State)
			}
		}
	}

	if last.Type != events.TypeResult || last.Result == nil || last.Result.Status != models.TaskStatusCompleted {
		t.Fatalf("last event = %+v, want completed result", last)
	}
	if chunks.String() != "all done here" {
		t.Errorf("chunks = %q", chunks.String())
	}
	wantStates := []string{"spec", "classify", "plan", "critique", "execute", "synthesize"}
	if diff := cmp.Diff(wantStates, states); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New(Config{}) succeeded")
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		output, assertion string
		want              bool
	}{
		{"a+b", "a+b", true},
		{"aab", "a+b", true},
		{"xyz", "^x.z$", true},
		{"xyz", "[", false},
		{"abc", "d", false},
	}
	for _, tt := range tests {
		if got, _ := matches(tt.output, tt.assertion); got != tt.want {
			t.Errorf("matches(%q, %q) = %v, want %v", tt.output, tt.assertion, got, tt.want)
		}
	}
}

func TestPolicies(t *testing.T) {
	audit := PolicyFunc(func(context.Context, models.Task, models.PlanStep) ([]Violation, error) {
		return []Violation{{Rule: "audit", Message: "seen"}}, nil
	})
	broken := PolicyFunc(func(context.Context, models.Task, models.PlanStep) ([]Violation, error) {
		return nil, errors.New("checker down")
	})

	combined := Policies(audit, nil, DenyTools("danger"))
	got, err := combined.Check(context.Background(), task, models.PlanStep{ToolName: "danger"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	rules := make([]string, 0, len(got))
	for _, v := range got {
		rules = append(rules, v.Rule)
	}
	if diff := cmp.Diff([]string{"audit", "denied_tool"}, rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}

	if _, err := Policies(audit, broken).Check(context.Background(), task, models.PlanStep{ToolName: "echo"}); err == nil {
		t.Error("Check error = nil, want checker error")
	}
}
