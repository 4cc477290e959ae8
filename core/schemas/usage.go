package schemas

import "time"

// TokenCounts is the normalized usage shape extracted from a provider response,
// matching the field names Anthropic's usage event carries:
// promptTokens/completionTokens/totalTokens alongside the raw Anthropic counters.
type TokenCounts struct {
	Model                    string
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
	PromptTokens             int
	CompletionTokens         int
	TotalTokens              int
}

// Normalize fills PromptTokens/CompletionTokens/TotalTokens from the Anthropic
// input/output counters when the caller only populated the latter.
func (t TokenCounts) Normalize() TokenCounts {
	t.PromptTokens = t.InputTokens + t.CacheReadInputTokens + t.CacheCreationInputTokens
	t.CompletionTokens = t.OutputTokens
	t.TotalTokens = t.PromptTokens + t.CompletionTokens
	return t
}

// UsageData is the per-account usage snapshot produced by the usage fetcher.
// It deliberately treats the provider-shaped payload as opaque (Anthropic's
// window-based usage, NanoGPT's subscription usage, z.ai's quota usage all differ)
// except for the two derived values every caller needs: a representative
// utilization percentage and the window/label it came from.
type UsageData struct {
	AccountID                 string
	Provider                  ModelProvider
	FetchedAt                 time.Time
	RepresentativeUtilization float64
	RepresentativeWindow      string
	Raw                       map[string]any
}

// CostEstimator computes an estimated dollar cost for a completed request. No
// pricing catalog ships in this repository; NoopCostEstimator is the default
// used when the caller injects none.
type CostEstimator func(model string, counts TokenCounts) float64

// NoopCostEstimator always returns zero.
func NoopCostEstimator(_ string, _ TokenCounts) float64 { return 0 }

// RateLimitInfo normalizes a response's rate-limit signal: a response either
// is or isn't rate-limited, with an optional millisecond-epoch reset time,
// the raw status-header value that drove the decision, and a remaining-count
// hint.
type RateLimitInfo struct {
	IsRateLimited bool
	ResetTime     *int64 // ms-epoch, nil when unknown
	StatusHeader  string
	Remaining     *int
}
