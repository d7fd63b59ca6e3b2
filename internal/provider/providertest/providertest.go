// Package providertest provides a scripted provider.Provider for tests.
package providertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ShayCichocki/orca/internal/provider"
	"github.com/ShayCichocki/orca/pkg/models"
)

// Reply is one scripted response.
type Reply struct {
	Content string
	Err     error
	Usage   provider.Usage
	CostUSD float64
}

// Handler produces the reply for a request.
type Handler func(req provider.ChatRequest) Reply

// Provider is a scripted provider. It is safe for concurrent use.
type Provider struct {
	name    string
	tiers   []models.Tier
	handler Handler

	mu        sync.Mutex
	available bool
	calls     []provider.ChatRequest
}

// New creates a scripted provider serving both tiers.
func New(name string, h Handler) *Provider {
	return &Provider{
		name:      name,
		tiers:     []models.Tier{models.TierSLM, models.TierLLM},
		handler:   h,
		available: true,
	}
}

// WithTiers restricts the tiers served.
func (p *Provider) WithTiers(tiers ...models.Tier) *Provider {
	p.tiers = tiers
	return p
}

// SetAvailable toggles IsAvailable.
func (p *Provider) SetAvailable(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = v
}

func (p *Provider) Name() string         { return p.name }
func (p *Provider) Tiers() []models.Tier { return p.tiers }
func (p *Provider) Model(t models.Tier) string {
	return p.name + "-" + string(t)
}

func (p *Provider) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	r := p.handler(req)
	if r.Err != nil {
		return nil, r.Err
	}
	usage := r.Usage
	if usage.Total() == 0 {
		usage = provider.Usage{InputTokens: 10, OutputTokens: 5}
	}
	model := req.Model
	if model == "" {
		model = p.Model(req.Tier)
	}
	return &provider.ChatResponse{
		Content:      r.Content,
		Model:        model,
		Usage:        usage,
		CostUSD:      r.CostUSD,
		FinishReason: "end_turn",
	}, nil
}

// ChatStream delivers the scripted content in word-sized deltas.
func (p *Provider) ChatStream(ctx context.Context, req provider.ChatRequest, onDelta func(string)) (*provider.ChatResponse, error) {
	resp, err := p.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	if onDelta != nil {
		for _, w := range strings.SplitAfter(resp.Content, " ") {
			if w != "" {
				onDelta(w)
			}
		}
	}
	return resp, nil
}

// Calls returns a copy of every request received.
func (p *Provider) Calls() []provider.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.ChatRequest(nil), p.calls...)
}

// Intents returns the Intent of every request received, in order.
func (p *Provider) Intents() []string {
	var out []string
	for _, c := range p.Calls() {
		out = append(out, c.Intent)
	}
	return out
}

// ByIntent answers from a map keyed by request intent. Intents without an
// entry get an error.
func ByIntent(replies map[string]Reply) Handler {
	return func(req provider.ChatRequest) Reply {
		if r, ok := replies[req.Intent]; ok {
			return r
		}
		return Reply{Err: fmt.Errorf("no scripted reply for intent %q", req.Intent)}
	}
}

// Sequence answers each intent from its own queue; the last reply repeats.
func Sequence(replies map[string][]Reply) Handler {
	var mu sync.Mutex
	next := make(map[string]int)
	return func(req provider.ChatRequest) Reply {
		mu.Lock()
		defer mu.Unlock()
		q := replies[req.Intent]
		if len(q) == 0 {
			return Reply{Err: fmt.Errorf("no scripted reply for intent %q", req.Intent)}
		}
		i := next[req.Intent]
		if i >= len(q) {
			i = len(q) - 1
		}
		next[req.Intent]++
		return q[i]
	}
}

// ErrScripted is a convenience error for failing replies.
var ErrScripted = errors.New("scripted failure")
