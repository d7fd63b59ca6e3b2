package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/provider"
	"github.com/ShayCichocki/orca/internal/provider/providertest"
	"github.com/ShayCichocki/orca/internal/trace"
	"github.com/ShayCichocki/orca/pkg/models"
)

func f(v float64) *float64 { return &v }

func newEnvelope(t *testing.T, bm *budget.Manager, escalations int) string {
	t.Helper()
	return bm.CreateEnvelopeFrom(models.BudgetEnvelope{
		MaxTokens:      1000,
		MaxToolCalls:   10,
		MaxEscalations: escalations,
		CostCeilingUSD: 1,
		MaxLatencyMs:   60000,
	})
}

func both(name string) *providertest.Provider { return providertest.New(name, nil) }

func TestRoute_Policy(t *testing.T) {
	tests := []struct {
		name          string
		preferLocal   bool
		escalations   int
		complexity    *float64
		confidence    *float64
		wantTier      models.Tier
		wantEscalated bool
		wantUsed      int
	}{
		{"llm default when not preferring local", false, 3, nil, f(0.1), models.TierLLM, false, 0},
		{"unknown scores stay local", true, 3, nil, nil, models.TierSLM, false, 0},
		{"confident and simple stays local", true, 3, f(0.6), f(0.7), models.TierSLM, false, 0},
		{"low confidence escalates", true, 3, f(0.1), f(0.69), models.TierLLM, true, 1},
		{"high complexity escalates", true, 3, f(0.61), f(0.9), models.TierLLM, true, 1},
		{"unaffordable falls back to slm", true, 0, f(0.9), f(0.1), models.TierSLM, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bm := budget.NewManager()
			env := newEnvelope(t, bm, tt.escalations)
			cfg := DefaultConfig()
			cfg.PreferLocal = tt.preferLocal
			r := New(cfg, provider.NewRegistry(both("p")), bm, nil)

			d, err := r.Route(Request{Intent: "plan", EnvelopeID: env, Complexity: tt.complexity, Confidence: tt.confidence})
			if err != nil {
				t.Fatalf("Route: %v", err)
			}
			if d.Tier != tt.wantTier {
				t.Errorf("Tier = %s, want %s (%s)", d.Tier, tt.wantTier, d.Reason)
			}
			if d.Escalated != tt.wantEscalated {
				t.Errorf("Escalated = %v, want %v", d.Escalated, tt.wantEscalated)
			}
			if d.Model != "p-"+string(d.Tier) {
				t.Errorf("Model = %q", d.Model)
			}
			st, _ := bm.State(env)
			if st.EscalationsUsed != tt.wantUsed {
				t.Errorf("EscalationsUsed = %d, want %d", st.EscalationsUsed, tt.wantUsed)
			}
		})
	}
}

func TestRoute_TierFallback(t *testing.T) {
	bm := budget.NewManager()
	env := newEnvelope(t, bm, 3)

	llmOnly := providertest.New("cloud", nil).WithTiers(models.TierLLM)
	r := New(DefaultConfig(), provider.NewRegistry(llmOnly), bm, nil)

	d, err := r.Route(Request{Intent: "classify", EnvelopeID: env})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Tier != models.TierLLM || d.Provider.Name() != "cloud" {
		t.Errorf("decision = %s/%s, want cloud/llm", d.Provider.Name(), d.Tier)
	}
	if d.Escalated {
		t.Error("tier fallback must not count as an escalation")
	}

	// Escalation wanted but only SLM exists: no unit charged.
	slmOnly := providertest.New("local", nil).WithTiers(models.TierSLM)
	r = New(DefaultConfig(), provider.NewRegistry(slmOnly), bm, nil)
	d, err = r.Route(Request{Intent: "plan", EnvelopeID: env, Confidence: f(0.1)})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Tier != models.TierSLM {
		t.Errorf("Tier = %s, want slm", d.Tier)
	}
	if st, _ := bm.State(env); st.EscalationsUsed != 0 {
		t.Errorf("EscalationsUsed = %d, want 0", st.EscalationsUsed)
	}
}

func TestRoute_NoProvider(t *testing.T) {
	bm := budget.NewManager()
	env := newEnvelope(t, bm, 3)

	down := both("down")
	down.SetAvailable(false)
	r := New(DefaultConfig(), provider.NewRegistry(down), bm, nil)

	if _, err := r.Route(Request{Intent: "plan", EnvelopeID: env}); !errors.Is(err, provider.ErrNoProvider) {
		t.Errorf("err = %v, want ErrNoProvider", err)
	}
}

func TestRoute_Priority(t *testing.T) {
	bm := budget.NewManager()
	env := newEnvelope(t, bm, 3)

	cfg := DefaultConfig()
	cfg.ProviderPriority = map[models.Tier][]string{models.TierSLM: {"second"}}
	r := New(cfg, provider.NewRegistry(both("first"), both("second")), bm, nil)

	d, err := r.Route(Request{Intent: "plan", EnvelopeID: env})
	if err != nil {
		t.Fatal(err)
	}
	if d.Provider.Name() != "second" {
		t.Errorf("provider = %s, want second", d.Provider.Name())
	}
}

func TestRoute_LogsDecision(t *testing.T) {
	bm := budget.NewManager()
	env := newEnvelope(t, bm, 3)
	traces := trace.NewLogger()
	tid := traces.CreateTrace("task")
	if _, err := traces.StartSpan(tid, "execute", nil); err != nil {
		t.Fatal(err)
	}

	r := New(DefaultConfig(), provider.NewRegistry(both("p")), bm, traces)
	if _, err := r.Route(Request{Intent: "synthesize", EnvelopeID: env, TraceID: tid, Confidence: f(0.2)}); err != nil {
		t.Fatal(err)
	}

	tr, err := traces.GetTrace(context.Background(), tid, nil)
	if err != nil {
		t.Fatal(err)
	}
	evs := tr.EventsOfType(trace.EventRoutingDecision)
	if len(evs) != 1 {
		t.Fatalf("routing events = %d, want 1", len(evs))
	}
	if evs[0].Data["intent"] != "synthesize" || evs[0].Data["escalated"] != true {
		t.Errorf("event data = %v", evs[0].Data)
	}
}

func TestRoute_ConcurrentEscalationsNeverOvercommit(t *testing.T) {
	bm := budget.NewManager()
	parent := newEnvelope(t, bm, 3)
	r := New(DefaultConfig(), provider.NewRegistry(both("p")), bm, nil)

	var children []string
	for i := 0; i < 4; i++ {
		child, err := bm.CreateSubEnvelope(parent, 1)
		if err != nil {
			t.Fatal(err)
		}
		children = append(children, child)
	}

	var escalated atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(env string) {
			defer wg.Done()
			d, err := r.Route(Request{Intent: "plan", EnvelopeID: env, Confidence: f(0)})
			if err != nil {
				t.Error(err)
				return
			}
			if d.Escalated {
				escalated.Add(1)
			}
		}(children[i%len(children)])
	}
	wg.Wait()

	if got := escalated.Load(); got != 3 {
		t.Errorf("escalations = %d, want 3", got)
	}
	if st, _ := bm.State(parent); st.EscalationsUsed != 3 {
		t.Errorf("parent EscalationsUsed = %d, want 3", st.EscalationsUsed)
	}
}

func TestRoute_PinTierChargesNothing(t *testing.T) {
	bm := budget.NewManager()
	env := newEnvelope(t, bm, 3)
	r := New(DefaultConfig(), provider.NewRegistry(both("p")), bm, nil)

	d, err := r.Route(Request{Intent: "replan", EnvelopeID: env, Confidence: f(0), PinTier: models.TierLLM})
	if err != nil {
		t.Fatal(err)
	}
	if d.Tier != models.TierLLM || d.Escalated {
		t.Errorf("decision = %s escalated=%v, want llm without escalation", d.Tier, d.Escalated)
	}
	if st, _ := bm.State(env); st.EscalationsUsed != 0 {
		t.Errorf("EscalationsUsed = %d, want 0", st.EscalationsUsed)
	}
}
