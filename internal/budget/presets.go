package budget

import (
	"fmt"
	"os"
	"sort"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/orca/pkg/models"
)

// Built-in preset names.
const (
	PresetMinimal  = "minimal"
	PresetStandard = "standard"
	PresetExtended = "extended"
)

// DefaultPreset is used when a request names no preset.
const DefaultPreset = PresetStandard

// Default energy limits for the standard preset. Minimal and extended scale
// these by 0.2 and 5.
const (
	defaultEnergyWh     = 50.0
	defaultCarbonGrams  = 25.0
	minimalEnergyScale  = 0.2
	extendedEnergyScale = 5.0
)

// DefaultPresets returns the built-in presets. Energy and carbon limits are
// only populated when energyEnabled is true.
func DefaultPresets(energyEnabled bool) map[string]models.BudgetEnvelope {
	presets := map[string]models.BudgetEnvelope{
		PresetMinimal: {
			MaxTokens:      20_000,
			MaxToolCalls:   5,
			MaxEscalations: 1,
			CostCeilingUSD: 0.05,
			MaxLatencyMs:   60_000,
		},
		PresetStandard: {
			MaxTokens:      100_000,
			MaxToolCalls:   20,
			MaxEscalations: 3,
			CostCeilingUSD: 0.50,
			MaxLatencyMs:   300_000,
		},
		PresetExtended: {
			MaxTokens:      500_000,
			MaxToolCalls:   100,
			MaxEscalations: 10,
			CostCeilingUSD: 5.00,
			MaxLatencyMs:   1_800_000,
		},
	}
	if energyEnabled {
		scales := map[string]float64{
			PresetMinimal:  minimalEnergyScale,
			PresetStandard: 1,
			PresetExtended: extendedEnergyScale,
		}
		for name, env := range presets {
			presets[name] = withEnergy(env, scales[name])
		}
	}
	return presets
}

func withEnergy(env models.BudgetEnvelope, scale float64) models.BudgetEnvelope {
	if env.MaxEnergyWh == nil {
		wh := defaultEnergyWh * scale
		env.MaxEnergyWh = &wh
	}
	if env.MaxCarbonGrams == nil {
		g := defaultCarbonGrams * scale
		env.MaxCarbonGrams = &g
	}
	return env
}

// presetsFile is the on-disk layout of a presets override file.
type presetsFile struct {
	Presets map[string]models.BudgetEnvelope `yaml:"presets"`
}

// LoadPresetsFile reads a YAML file of presets and merges them over base.
// Presets in the file replace built-ins of the same name.
func LoadPresetsFile(path string, base map[string]models.BudgetEnvelope) (map[string]models.BudgetEnvelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets file: %w", err)
	}

	var file presetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets file %s: %w", path, err)
	}

	merged := make(map[string]models.BudgetEnvelope, len(base)+len(file.Presets))
	for name, env := range base {
		merged[name] = env
	}
	for name, env := range file.Presets {
		merged[name] = env
	}
	return merged, nil
}

// PresetNames returns preset names in sorted order.
func PresetNames(presets map[string]models.BudgetEnvelope) []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge applies a partial override over a base envelope.
func Merge(base models.BudgetEnvelope, o *models.BudgetOverride) models.BudgetEnvelope {
	if o == nil {
		return base
	}
	if o.MaxTokens != nil {
		base.MaxTokens = *o.MaxTokens
	}
	if o.MaxToolCalls != nil {
		base.MaxToolCalls = *o.MaxToolCalls
	}
	if o.MaxEscalations != nil {
		base.MaxEscalations = *o.MaxEscalations
	}
	if o.CostCeilingUSD != nil {
		base.CostCeilingUSD = *o.CostCeilingUSD
	}
	if o.MaxLatencyMs != nil {
		base.MaxLatencyMs = *o.MaxLatencyMs
	}
	if o.MaxEnergyWh != nil {
		v := *o.MaxEnergyWh
		base.MaxEnergyWh = &v
	}
	if o.MaxCarbonGrams != nil {
		v := *o.MaxCarbonGrams
		base.MaxCarbonGrams = &v
	}
	return base
}
