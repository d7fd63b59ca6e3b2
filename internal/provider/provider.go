// Package provider exposes chat-capable model backends grouped by tier.
package provider

import (
	"context"
	"errors"

	"github.com/ShayCichocki/orca/pkg/models"
)

// ErrNoProvider is returned when no available provider serves a request.
var ErrNoProvider = errors.New("no available model provider")

// ChatRequest is a single chat completion request.
type ChatRequest struct {
	// Intent labels the call ("plan", "critique", ...). Providers ignore it.
	Intent string
	// Model overrides the provider's default model for Tier when non-empty.
	Model string
	// Tier selects the provider's default model when Model is empty.
	Tier models.Tier
	// System is the system prompt.
	System string
	// Messages is the conversation, oldest first. Roles are "user" or "assistant".
	Messages []models.Message
	// MaxTokens bounds the response length. Zero uses DefaultMaxTokens.
	MaxTokens int64
	// Temperature is optional sampling temperature.
	Temperature *float64
}

// DefaultMaxTokens is used when a request does not set MaxTokens.
const DefaultMaxTokens = 4096

// Usage is the token accounting for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// ChatResponse is the result of one chat call.
type ChatResponse struct {
	Content      string
	Model        string
	Usage        Usage
	CostUSD      float64
	LatencyMs    int64
	FinishReason string
	// Confidence is set only by providers that report one.
	Confidence *float64
}

// Provider is a chat-capable model backend.
type Provider interface {
	// Name identifies the provider in routing priority lists.
	Name() string
	// Tiers lists the tiers this provider serves.
	Tiers() []models.Tier
	// Model returns the default model for a tier.
	Model(tier models.Tier) string
	// IsAvailable reports whether the provider can take calls right now.
	IsAvailable() bool
	// Chat performs one completion.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// ChatStream performs one completion, calling onDelta with each text
	// fragment as it arrives. The returned response carries the full content.
	ChatStream(ctx context.Context, req ChatRequest, onDelta func(string)) (*ChatResponse, error)
}

// Serves reports whether p lists tier among its tiers.
func Serves(p Provider, tier models.Tier) bool {
	for _, t := range p.Tiers() {
		if t == tier {
			return true
		}
	}
	return false
}

func resolveModel(p Provider, req ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.Model(req.Tier)
}

func maxTokens(req ChatRequest) int64 {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}
