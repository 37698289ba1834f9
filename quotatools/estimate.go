package quotatools

import (
	"github.com/relaycore/relaycore/llm/observability"
	"github.com/relaycore/relaycore/llm/tokenizer"
)

// EstimateCostResult is estimate_quota_cost's output.
type EstimateCostResult struct {
	ExpectedRequests int      `json:"expected_requests"`
	ExpectedTokens   int      `json:"expected_tokens"`
	USDEstimate      *float64 `json:"usd_estimate,omitempty"`
}

// usdPer1kTokens is a coarse, intentionally approximate per-family fallback
// used when model is unknown or absent from costCalculator's per-model
// table; families absent from this table yield no estimate rather than a
// fabricated one.
var usdPer1kTokens = map[string]float64{
	"openai":    0.01,
	"anthropic": 0.015,
	"gemini":    0.007,
}

// costCalculator holds per-model input/output pricing; consulted first
// when model is known, since it prices input/output tokens separately
// rather than applying one blended per-family rate.
var costCalculator = observability.NewCostCalculator()

// costProviderAlias maps a router family name onto costCalculator's
// provider key where the two diverge (the calculator's default table
// predates the "anthropic" family name and still keys Claude under
// "claude").
func costProviderAlias(provider string) string {
	if provider == "anthropic" {
		return "claude"
	}
	return provider
}

func init() {
	// Registers the real tiktoken-go encodings for the known OpenAI model
	// family so EstimateTokens gets genuine token counts instead of always
	// falling back to the character estimator.
	tokenizer.RegisterOpenAITokenizers()
}

// EstimateTokens counts prompt's tokens via the tiktoken-go-backed
// tokenizer registry (GetTokenizerOrEstimator falls back to the CJK-aware
// character estimator if no tiktoken encoding is registered for model).
func EstimateTokens(prompt, model string) int {
	tk := tokenizer.GetTokenizerOrEstimator(model)
	n, err := tk.CountTokens(prompt)
	if err != nil {
		return len(prompt) / 4
	}
	return n
}

// EstimateCost implements estimate_quota_cost: a pure function with no
// state access. When estimatedTokens is 0 and prompt is non-empty, tokens
// are derived via EstimateTokens instead of failing the call. model is an
// additive hint used only to pick the closest tiktoken encoding; provider
// is an additive hint used only to look up a usd_estimate.
func EstimateCost(provider, model string, estimatedTokens int, prompt string, parallelCount int) EstimateCostResult {
	if estimatedTokens <= 0 && prompt != "" {
		estimatedTokens = EstimateTokens(prompt, model)
	}
	if parallelCount <= 0 {
		parallelCount = 1
	}

	res := EstimateCostResult{
		ExpectedRequests: parallelCount,
		ExpectedTokens:   estimatedTokens * parallelCount,
	}

	if model != "" {
		if price := costCalculator.GetPrice(costProviderAlias(provider), model); price != nil {
			usd := float64(res.ExpectedTokens) / 1000.0 * price.PriceInput
			res.USDEstimate = &usd
			return res
		}
	}

	if price, ok := usdPer1kTokens[provider]; ok {
		usd := float64(res.ExpectedTokens) / 1000.0 * price
		res.USDEstimate = &usd
	}
	return res
}
