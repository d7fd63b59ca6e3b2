// Package router picks a provider, model and tier for each model call.
package router

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/provider"
	"github.com/ShayCichocki/orca/internal/trace"
	"github.com/ShayCichocki/orca/pkg/models"
)

// Config is the routing policy.
type Config struct {
	// PreferLocal routes to the SLM tier unless escalation is warranted.
	// When false the LLM tier is the default and no escalation is charged.
	PreferLocal bool `mapstructure:"prefer_local" yaml:"prefer_local"`
	// SLMConfidenceThreshold: confidence below this escalates to the LLM tier.
	SLMConfidenceThreshold float64 `mapstructure:"slm_confidence_threshold" yaml:"slm_confidence_threshold"`
	// ComplexityThreshold: complexity above this escalates to the LLM tier.
	ComplexityThreshold float64 `mapstructure:"complexity_threshold" yaml:"complexity_threshold"`
	// ProviderPriority lists provider names per tier, most preferred first.
	ProviderPriority map[models.Tier][]string `mapstructure:"provider_priority" yaml:"provider_priority"`
	// MaxReplanDepth bounds recovery replans per execution.
	MaxReplanDepth int `mapstructure:"max_replan_depth" yaml:"max_replan_depth"`
}

// DefaultConfig returns the default routing policy.
func DefaultConfig() Config {
	return Config{
		PreferLocal:            true,
		SLMConfidenceThreshold: 0.7,
		ComplexityThreshold:    0.6,
		ProviderPriority:       map[models.Tier][]string{},
		MaxReplanDepth:         2,
	}
}

// Request is one routing question.
type Request struct {
	Intent     string
	EnvelopeID string
	TraceID    string
	// Complexity defaults to 0 when nil.
	Complexity *float64
	// Confidence defaults to 1 when nil.
	Confidence *float64
	// PinTier bypasses the escalation policy. Used for calls whose
	// escalation unit was already charged.
	PinTier models.Tier
}

// Decision is the router's answer.
type Decision struct {
	Provider  provider.Provider
	Model     string
	Tier      models.Tier
	Escalated bool
	Reason    string
}

// Router selects providers by tier. It is safe for concurrent use.
type Router struct {
	cfg       Config
	providers *provider.Registry
	budget    *budget.Manager
	traces    *trace.Logger
	logger    *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l.Named("router")
		}
	}
}

// New creates a router. traces may be nil.
func New(cfg Config, providers *provider.Registry, bm *budget.Manager, traces *trace.Logger, opts ...Option) *Router {
	r := &Router{
		cfg:       cfg,
		providers: providers,
		budget:    bm,
		traces:    traces,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the routing policy.
func (r *Router) Config() Config { return r.cfg }

// Route picks a provider for req. An escalation to the LLM tier charges one
// escalation unit atomically; when the envelope cannot afford it the SLM tier
// is used regardless of confidence. When the chosen tier has no available
// provider the other tier is tried. Returns provider.ErrNoProvider only when
// neither tier has one.
func (r *Router) Route(req Request) (Decision, error) {
	complexity, confidence := 0.0, 1.0
	if req.Complexity != nil {
		complexity = *req.Complexity
	}
	if req.Confidence != nil {
		confidence = *req.Confidence
	}

	var d Decision
	switch {
	case req.PinTier.Valid():
		d.Tier = req.PinTier
		d.Reason = "pinned"
	case !r.cfg.PreferLocal:
		d.Tier = models.TierLLM
		d.Reason = "llm default"
	case confidence >= r.cfg.SLMConfidenceThreshold && complexity <= r.cfg.ComplexityThreshold:
		d.Tier = models.TierSLM
		d.Reason = "within slm thresholds"
	case len(r.available(models.TierLLM)) == 0:
		d.Tier = models.TierSLM
		d.Reason = "escalation wanted, no llm provider"
	case r.budget.TryDeductEscalation(req.EnvelopeID):
		d.Tier = models.TierLLM
		d.Escalated = true
		d.Reason = fmt.Sprintf("escalated: confidence %.2f, complexity %.2f", confidence, complexity)
	default:
		d.Tier = models.TierSLM
		d.Reason = "escalation unaffordable"
	}

	candidates := r.available(d.Tier)
	if len(candidates) == 0 {
		other := d.Tier.Other()
		candidates = r.available(other)
		if len(candidates) == 0 {
			r.logger.Warn("no provider available", zap.String("intent", req.Intent))
			return Decision{}, fmt.Errorf("route %s: %w", req.Intent, provider.ErrNoProvider)
		}
		d.Reason += fmt.Sprintf("; no %s provider, using %s", d.Tier, other)
		d.Tier = other
	}
	d.Provider = candidates[0]
	d.Model = d.Provider.Model(d.Tier)

	r.logger.Debug("routed",
		zap.String("intent", req.Intent),
		zap.String("provider", d.Provider.Name()),
		zap.String("model", d.Model),
		zap.String("tier", string(d.Tier)),
		zap.Bool("escalated", d.Escalated))

	if r.traces != nil && req.TraceID != "" {
		r.traces.LogRoutingDecision(req.TraceID, trace.RoutingDecision{
			Intent:     req.Intent,
			Provider:   d.Provider.Name(),
			Model:      d.Model,
			Tier:       d.Tier,
			Complexity: complexity,
			Confidence: confidence,
			Escalated:  d.Escalated,
			Reason:     d.Reason,
		})
	}
	return d, nil
}

func (r *Router) available(tier models.Tier) []provider.Provider {
	return r.providers.Available(tier, r.cfg.ProviderPriority[tier])
}
