package models

// Resource names one tracked budget dimension.
type Resource string

const (
	ResourceTokens      Resource = "tokens"
	ResourceLatency     Resource = "latency"
	ResourceToolCalls   Resource = "toolCalls"
	ResourceEscalations Resource = "escalations"
	ResourceCost        Resource = "cost"
	ResourceEnergy      Resource = "energy"
	ResourceCarbon      Resource = "carbon"
)

// BudgetEnvelope holds the declarative limits for one execution.
type BudgetEnvelope struct {
	// MaxTokens is the total input+output token allowance.
	MaxTokens int64 `json:"max_tokens" yaml:"max_tokens"`
	// MaxToolCalls is the number of tool invocations allowed.
	MaxToolCalls int `json:"max_tool_calls" yaml:"max_tool_calls"`
	// MaxEscalations is the number of tier escalations or replans allowed.
	MaxEscalations int `json:"max_escalations" yaml:"max_escalations"`
	// CostCeilingUSD is the spend ceiling in US dollars.
	CostCeilingUSD float64 `json:"cost_ceiling_usd" yaml:"cost_ceiling_usd"`
	// MaxLatencyMs is the wall-clock allowance in milliseconds.
	MaxLatencyMs int64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	// MaxEnergyWh is set only when energy accounting is enabled.
	MaxEnergyWh *float64 `json:"max_energy_wh,omitempty" yaml:"max_energy_wh,omitempty"`
	// MaxCarbonGrams is set only when energy accounting is enabled.
	MaxCarbonGrams *float64 `json:"max_carbon_grams,omitempty" yaml:"max_carbon_grams,omitempty"`
}

// BudgetOverride is a partial envelope merged over a preset. Nil fields keep
// the preset's value.
type BudgetOverride struct {
	MaxTokens      *int64   `json:"max_tokens,omitempty"`
	MaxToolCalls   *int     `json:"max_tool_calls,omitempty"`
	MaxEscalations *int     `json:"max_escalations,omitempty"`
	CostCeilingUSD *float64 `json:"cost_ceiling_usd,omitempty"`
	MaxLatencyMs   *int64   `json:"max_latency_ms,omitempty"`
	MaxEnergyWh    *float64 `json:"max_energy_wh,omitempty"`
	MaxCarbonGrams *float64 `json:"max_carbon_grams,omitempty"`
}

// BudgetRequest selects a preset by name and optionally overrides some limits.
// An empty Preset selects the default preset.
type BudgetRequest struct {
	Preset   string          `json:"preset,omitempty"`
	Override *BudgetOverride `json:"override,omitempty"`
}

// BudgetUsage is a read-only snapshot of an envelope's consumption.
type BudgetUsage struct {
	EnvelopeID string `json:"envelope_id"`
	// Label is set for checkpoint snapshots.
	Label string `json:"label,omitempty"`

	TokensUsed      int64 `json:"tokens_used"`
	TokensRemaining int64 `json:"tokens_remaining"`
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`

	ToolCallsUsed      int `json:"tool_calls_used"`
	ToolCallsRemaining int `json:"tool_calls_remaining"`

	EscalationsUsed      int `json:"escalations_used"`
	EscalationsRemaining int `json:"escalations_remaining"`

	CostUSD          float64 `json:"cost_usd"`
	CostRemainingUSD float64 `json:"cost_remaining_usd"`

	LatencyMs          int64 `json:"latency_ms"`
	LatencyRemainingMs int64 `json:"latency_remaining_ms"`

	EnergyWh             float64  `json:"energy_wh"`
	EnergyRemainingWh    *float64 `json:"energy_remaining_wh,omitempty"`
	CarbonGrams          float64  `json:"carbon_grams"`
	CarbonRemainingGrams *float64 `json:"carbon_remaining_grams,omitempty"`
}
