package provider

import "strings"

// Price is USD per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// Prices keyed by model name prefix. Longest prefix wins.
var prices = map[string]Price{
	"claude-haiku-4-5":           {Input: 1.0, Output: 5.0},
	"claude-3-5-haiku":           {Input: 0.8, Output: 4.0},
	"claude-sonnet-4":            {Input: 3.0, Output: 15.0},
	"claude-3-7-sonnet":          {Input: 3.0, Output: 15.0},
	"claude-opus-4-5":            {Input: 5.0, Output: 25.0},
	"claude-opus-4":              {Input: 15.0, Output: 75.0},
	"us.anthropic.claude-haiku":  {Input: 1.0, Output: 5.0},
	"us.anthropic.claude-sonnet": {Input: 3.0, Output: 15.0},
	"us.anthropic.claude-opus":   {Input: 5.0, Output: 25.0},
	"gemini-2.5-flash-lite":      {Input: 0.10, Output: 0.40},
	"gemini-2.5-flash":           {Input: 0.30, Output: 2.50},
	"gemini-2.5-pro":             {Input: 1.25, Output: 10.0},
}

// defaultPrice is Sonnet-class pricing, used for unknown models.
var defaultPrice = Price{Input: 3.0, Output: 15.0}

// PriceFor returns the price for a model.
func PriceFor(model string) Price {
	best := ""
	for prefix := range prices {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultPrice
	}
	return prices[best]
}

// EstimateCost returns the USD cost of a call.
func EstimateCost(model string, u Usage) float64 {
	p := PriceFor(model)
	return float64(u.InputTokens)/1_000_000*p.Input + float64(u.OutputTokens)/1_000_000*p.Output
}
