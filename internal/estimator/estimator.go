// Package estimator approximates token counts and dollar cost from payload
// size and the declared model. The chars/4 heuristic is deliberately crude
// and provider-agnostic; it is the sole input to quota accounting.
package estimator

import (
	"encoding/json"
	"strings"
)

// ratePer1KTokens maps known models to $/1K-token rates. Static
// configuration; unknown models fall back to defaultRate.
var ratePer1KTokens = map[string]float64{
	"gpt-4":           0.06,
	"gpt-4-turbo":     0.03,
	"gpt-3.5-turbo":   0.002,
	"claude-3-opus":   0.075,
	"claude-3-sonnet": 0.015,
	"claude-3-haiku":  0.00125,
}

// defaultRate applies when the model is unknown or absent.
const defaultRate = 0.01

// EstimateTokens approximates the token count of a payload as
// ceil(len/4). Zero-length input yields zero.
func EstimateTokens(text string) int64 {
	if len(text) == 0 {
		return 0
	}
	return int64((len(text) + 3) / 4)
}

// EstimateCost converts a token count to dollars using the model's per-1K
// rate, falling back to the default rate for unknown models.
func EstimateCost(tokens int64, model string) float64 {
	rate := defaultRate
	if known, ok := ratePer1KTokens[strings.TrimSpace(model)]; ok {
		rate = known
	}
	return float64(tokens) / 1000 * rate
}

// Usage carries an authoritative token count reported by an upstream
// response body.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// UsageFromResponse extracts an OpenAI-style usage object from a response
// body when one is present. The result is informational: quota accounting
// stays on the size-based estimate so commits are reproducible from payload
// sizes alone.
func UsageFromResponse(body []byte) (Usage, bool) {
	if len(body) == 0 {
		return Usage{}, false
	}

	// envelope narrows parsing to the usage field.
	var envelope struct {
		Usage *Usage `json:"usage"`
	}
	if errUnmarshal := json.Unmarshal(body, &envelope); errUnmarshal != nil {
		return Usage{}, false
	}
	if envelope.Usage == nil {
		return Usage{}, false
	}
	usage := *envelope.Usage
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	if usage.TotalTokens <= 0 {
		return Usage{}, false
	}
	return usage, true
}
