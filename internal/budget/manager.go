// Package budget tracks hierarchical resource envelopes for task execution.
//
// Envelopes live in an arena keyed by opaque ID, with a separate child->parent
// edge map. Every deduction applied to an envelope is mirrored to each of its
// ancestors, so usage recorded at any ancestor is always at least the sum of
// its descendants' usage.
package budget

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/pkg/models"
)

// State is the mutable consumption of one envelope.
type State struct {
	TokensUsed      int64
	InputTokens     int64
	OutputTokens    int64
	ToolCallsUsed   int
	EscalationsUsed int
	CostUSD         float64
	EnergyWh        float64
	CarbonGrams     float64
	StartTime       time.Time
}

type instance struct {
	limits models.BudgetEnvelope
	state  State
}

// Manager creates and tracks budget envelopes.
//
// A single mutex serializes all envelope mutations, which makes a deduction
// and its mirroring to every ancestor one atomic step. TryDeductToolCall and
// TryDeductEscalation combine the affordability check with the deduction so
// that concurrently running children cannot over-commit a shared parent.
type Manager struct {
	mu        sync.Mutex
	envelopes map[string]*instance
	// parents maps child envelope ID to parent envelope ID.
	parents map[string]string

	presets       map[string]models.BudgetEnvelope
	defaultPreset string
	now           func() time.Time
	logger        *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPresets replaces the preset table.
func WithPresets(presets map[string]models.BudgetEnvelope) Option {
	return func(m *Manager) {
		if len(presets) > 0 {
			m.presets = presets
		}
	}
}

// WithDefaultPreset sets the preset used when a request names none.
func WithDefaultPreset(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.defaultPreset = name
		}
	}
}

// WithClock overrides the time source. Used by tests to control latency.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.Named("budget")
		}
	}
}

// NewManager creates a Manager with the built-in presets (energy disabled)
// unless overridden by options.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		envelopes:     make(map[string]*instance),
		parents:       make(map[string]string),
		presets:       DefaultPresets(false),
		defaultPreset: DefaultPreset,
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Presets returns a copy of the preset table.
func (m *Manager) Presets() map[string]models.BudgetEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]models.BudgetEnvelope, len(m.presets))
	for k, v := range m.presets {
		out[k] = v
	}
	return out
}

// CreateEnvelope creates a root envelope from a preset, merging any partial
// override over the preset's limits.
func (m *Manager) CreateEnvelope(req models.BudgetRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := req.Preset
	if name == "" {
		name = m.defaultPreset
	}
	base, ok := m.presets[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}

	id := m.addLocked(Merge(base, req.Override), "")
	m.logger.Debug("envelope created", zap.String("envelope", id), zap.String("preset", name))
	return id, nil
}

// CreateEnvelopeFrom creates a root envelope with explicit limits.
func (m *Manager) CreateEnvelopeFrom(limits models.BudgetEnvelope) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(limits, "")
}

// CreateSubEnvelope creates a child of parentID whose limits are share times
// the parent's remaining quantities at this instant. share is clamped to [0,1].
// Deductions on the child are mirrored to the parent.
func (m *Manager) CreateSubEnvelope(parentID string, share float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.envelopes[parentID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEnvelope, parentID)
	}

	share = models.Clamp01(share)
	usage := m.usageLocked(parentID, parent)

	limits := models.BudgetEnvelope{
		MaxTokens:      int64(math.Floor(float64(nonNeg64(usage.TokensRemaining)) * share)),
		MaxToolCalls:   int(math.Floor(float64(nonNeg(usage.ToolCallsRemaining)) * share)),
		MaxEscalations: int(math.Floor(float64(nonNeg(usage.EscalationsRemaining)) * share)),
		CostCeilingUSD: math.Max(usage.CostRemainingUSD, 0) * share,
		MaxLatencyMs:   int64(math.Floor(float64(nonNeg64(usage.LatencyRemainingMs)) * share)),
	}
	if usage.EnergyRemainingWh != nil {
		v := math.Max(*usage.EnergyRemainingWh, 0) * share
		limits.MaxEnergyWh = &v
	}
	if usage.CarbonRemainingGrams != nil {
		v := math.Max(*usage.CarbonRemainingGrams, 0) * share
		limits.MaxCarbonGrams = &v
	}

	id := m.addLocked(limits, parentID)
	m.logger.Debug("sub-envelope created",
		zap.String("envelope", id),
		zap.String("parent", parentID),
		zap.Float64("share", share),
		zap.Int64("max_tokens", limits.MaxTokens))
	return id, nil
}

func (m *Manager) addLocked(limits models.BudgetEnvelope, parentID string) string {
	id := uuid.New().String()
	m.envelopes[id] = &instance{
		limits: limits,
		state:  State{StartTime: m.now()},
	}
	if parentID != "" {
		m.parents[id] = parentID
	}
	return id
}

// Release discards an envelope and its parent edge. Deductions on a child
// stop mirroring at a released ancestor.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.envelopes, id)
	delete(m.parents, id)
}

// Parent returns the parent envelope ID, if any.
func (m *Manager) Parent(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parents[id]
	return p, ok
}

// Limits returns the declared limits of an envelope.
func (m *Manager) Limits(id string) (models.BudgetEnvelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.envelopes[id]
	if !ok {
		return models.BudgetEnvelope{}, fmt.Errorf("%w: %s", ErrUnknownEnvelope, id)
	}
	return inst.limits, nil
}

// applyLocked runs fn on the envelope and each of its ancestors.
func (m *Manager) applyLocked(id string, fn func(*State)) error {
	if _, ok := m.envelopes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEnvelope, id)
	}
	for cur := id; cur != ""; cur = m.parents[cur] {
		inst, ok := m.envelopes[cur]
		if !ok {
			break
		}
		fn(&inst.state)
	}
	return nil
}

// DeductTokens records token usage on the envelope and its ancestors.
func (m *Manager) DeductTokens(id string, input, output int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.applyLocked(id, func(s *State) {
		s.InputTokens += input
		s.OutputTokens += output
		s.TokensUsed += input + output
	})
}

// DeductToolCall records one tool call.
func (m *Manager) DeductToolCall(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.applyLocked(id, func(s *State) { s.ToolCallsUsed++ })
}

// DeductEscalation records one escalation.
func (m *Manager) DeductEscalation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.applyLocked(id, func(s *State) { s.EscalationsUsed++ })
}

// DeductCost records spend in US dollars.
func (m *Manager) DeductCost(id string, usd float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.applyLocked(id, func(s *State) { s.CostUSD += usd })
}

// DeductEnergy records energy and carbon consumption.
func (m *Manager) DeductEnergy(id string, wh, carbonGrams float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.applyLocked(id, func(s *State) {
		s.EnergyWh += wh
		s.CarbonGrams += carbonGrams
	})
}

// chainAffordsLocked reports whether the envelope and every ancestor have at
// least one unit of the resource left.
func (m *Manager) chainAffordsLocked(id string, remaining func(*instance) int) bool {
	if _, ok := m.envelopes[id]; !ok {
		return false
	}
	for cur := id; cur != ""; cur = m.parents[cur] {
		inst, ok := m.envelopes[cur]
		if !ok {
			break
		}
		if remaining(inst) < 1 {
			return false
		}
	}
	return true
}

func escalationsLeft(inst *instance) int {
	return inst.limits.MaxEscalations - inst.state.EscalationsUsed
}

func toolCallsLeft(inst *instance) int {
	return inst.limits.MaxToolCalls - inst.state.ToolCallsUsed
}

// CanAffordEscalation is a cheap pre-check. Under concurrency prefer
// TryDeductEscalation.
func (m *Manager) CanAffordEscalation(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainAffordsLocked(id, escalationsLeft)
}

// CanAffordToolCall is a cheap pre-check. Under concurrency prefer
// TryDeductToolCall.
func (m *Manager) CanAffordToolCall(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chainAffordsLocked(id, toolCallsLeft)
}

// TryDeductEscalation deducts one escalation only if the whole chain can
// afford it. Returns false without mutating anything otherwise.
func (m *Manager) TryDeductEscalation(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.chainAffordsLocked(id, escalationsLeft) {
		return false
	}
	_ = m.applyLocked(id, func(s *State) { s.EscalationsUsed++ })
	return true
}

// TryDeductToolCall deducts one tool call only if the whole chain can afford it.
func (m *Manager) TryDeductToolCall(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.chainAffordsLocked(id, toolCallsLeft) {
		return false
	}
	_ = m.applyLocked(id, func(s *State) { s.ToolCallsUsed++ })
	return true
}

// CheckBudget returns an *ExhaustedError naming the first exhausted resource,
// checked in the order tokens, latency, toolCalls, escalations, cost, energy,
// carbon. Tokens and latency are exhausted at remaining <= 0; the others at
// remaining < 0. Energy and carbon are only checked when configured.
func (m *Manager) CheckBudget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.envelopes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEnvelope, id)
	}
	u := m.usageLocked(id, inst)

	var res models.Resource
	switch {
	case u.TokensRemaining <= 0:
		res = models.ResourceTokens
	case u.LatencyRemainingMs <= 0:
		res = models.ResourceLatency
	case u.ToolCallsRemaining < 0:
		res = models.ResourceToolCalls
	case u.EscalationsRemaining < 0:
		res = models.ResourceEscalations
	case u.CostRemainingUSD < 0:
		res = models.ResourceCost
	case u.EnergyRemainingWh != nil && *u.EnergyRemainingWh < 0:
		res = models.ResourceEnergy
	case u.CarbonRemainingGrams != nil && *u.CarbonRemainingGrams < 0:
		res = models.ResourceCarbon
	default:
		return nil
	}

	m.logger.Warn("budget exhausted", zap.String("envelope", id), zap.String("resource", string(res)))
	return &ExhaustedError{Resource: res, Usage: u}
}

// Usage returns a read-only snapshot of the envelope's consumption.
func (m *Manager) Usage(id string) (models.BudgetUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.envelopes[id]
	if !ok {
		return models.BudgetUsage{}, fmt.Errorf("%w: %s", ErrUnknownEnvelope, id)
	}
	return m.usageLocked(id, inst), nil
}

// Checkpoint returns a labelled usage snapshot for trace annotation.
func (m *Manager) Checkpoint(id, label string) (models.BudgetUsage, error) {
	u, err := m.Usage(id)
	if err != nil {
		return u, err
	}
	u.Label = label
	return u, nil
}

// State returns a copy of the raw state.
func (m *Manager) State(id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.envelopes[id]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownEnvelope, id)
	}
	return inst.state, nil
}

func (m *Manager) usageLocked(id string, inst *instance) models.BudgetUsage {
	l, s := inst.limits, inst.state
	elapsed := m.now().Sub(s.StartTime).Milliseconds()

	u := models.BudgetUsage{
		EnvelopeID:           id,
		TokensUsed:           s.TokensUsed,
		TokensRemaining:      l.MaxTokens - s.TokensUsed,
		InputTokens:          s.InputTokens,
		OutputTokens:         s.OutputTokens,
		ToolCallsUsed:        s.ToolCallsUsed,
		ToolCallsRemaining:   l.MaxToolCalls - s.ToolCallsUsed,
		EscalationsUsed:      s.EscalationsUsed,
		EscalationsRemaining: l.MaxEscalations - s.EscalationsUsed,
		CostUSD:              s.CostUSD,
		CostRemainingUSD:     l.CostCeilingUSD - s.CostUSD,
		LatencyMs:            elapsed,
		LatencyRemainingMs:   l.MaxLatencyMs - elapsed,
		EnergyWh:             s.EnergyWh,
		CarbonGrams:          s.CarbonGrams,
	}
	if l.MaxEnergyWh != nil {
		v := *l.MaxEnergyWh - s.EnergyWh
		u.EnergyRemainingWh = &v
	}
	if l.MaxCarbonGrams != nil {
		v := *l.MaxCarbonGrams - s.CarbonGrams
		u.CarbonRemainingGrams = &v
	}
	return u
}

func nonNeg(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func nonNeg64(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
