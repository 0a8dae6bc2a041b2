// Package pricing provides per-model cost estimation for token usage.
package pricing

import "strings"

// ModelPricing holds per-million-token costs in USD.
type ModelPricing struct {
	PromptPer1M     float64
	CompletionPer1M float64
}

// Known model pricing as of Aug 2026. Add new models as needed.
var knownModels = map[string]ModelPricing{
	// OpenAI
	"gpt-4o":      {2.50, 10.00},
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4.1":     {2.00, 8.00},
	"gpt-4.1-mini": {0.40, 1.60},
	// Anthropic
	"claude-3-7-sonnet": {3.00, 15.00},
	"claude-sonnet-4-5": {3.00, 15.00},
	"claude-haiku-3-5":  {0.80, 4.00},
	// Gemini
	"gemini-2.5-flash": {0.075, 0.30},
	"gemini-1.5-pro":   {1.25, 5.00},
}

// EstimateCost returns the estimated USD cost for the given token counts.
// Returns 0.0 for unknown models (safe default). Dated model suffixes like
// "gpt-4o-2024-08-06" fall back to their base entry.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := knownModels[model]
	if !ok {
		// Longest prefix wins so gpt-4o-mini-2024 matches gpt-4o-mini, not gpt-4o.
		best := ""
		for name, candidate := range knownModels {
			if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
				best = name
				p, ok = candidate, true
			}
		}
	}
	if !ok {
		return 0.0
	}
	return (float64(promptTokens)/1_000_000)*p.PromptPer1M +
		(float64(completionTokens)/1_000_000)*p.CompletionPer1M
}
