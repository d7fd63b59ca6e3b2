package budget

import "github.com/ShayCichocki/orca/pkg/models"

// EnergyConfig enables energy and carbon accounting.
type EnergyConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// WhPer1kTokens is the energy attributed to 1000 tokens on each tier.
	WhPer1kTokens map[models.Tier]float64 `mapstructure:"wh_per_1k_tokens" yaml:"wh_per_1k_tokens"`
	// CarbonGramsPerWh converts energy to emissions.
	CarbonGramsPerWh float64 `mapstructure:"carbon_grams_per_wh" yaml:"carbon_grams_per_wh"`
}

// DefaultEnergyConfig returns disabled accounting with coarse default factors.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		WhPer1kTokens: map[models.Tier]float64{
			models.TierSLM: 0.05,
			models.TierLLM: 0.5,
		},
		CarbonGramsPerWh: 0.4,
	}
}

// Estimate returns the energy and carbon attributed to tokens on tier.
// Returns zeros when accounting is disabled.
func (c EnergyConfig) Estimate(tier models.Tier, tokens int64) (wh, carbonGrams float64) {
	if !c.Enabled || tokens <= 0 {
		return 0, 0
	}
	wh = float64(tokens) / 1000 * c.WhPer1kTokens[tier]
	return wh, wh * c.CarbonGramsPerWh
}
