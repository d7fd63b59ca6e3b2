package models

// Tier represents a coarse model-capability class.
type Tier string

const (
	// TierSLM is the small/local model tier used by default for cheap calls.
	TierSLM Tier = "slm"
	// TierLLM is the large/cloud model tier reached through escalation.
	TierLLM Tier = "llm"
)

// Valid returns true if the tier is a known value.
func (t Tier) Valid() bool {
	switch t {
	case TierSLM, TierLLM:
		return true
	default:
		return false
	}
}

// Other returns the opposite tier. Unknown tiers map to TierSLM.
func (t Tier) Other() Tier {
	if t == TierSLM {
		return TierLLM
	}
	return TierSLM
}
