package schemas

import "time"

// BedrockModel is a single entry from Bedrock's ListFoundationModels, cached by
// the model cache. SearchKey is the normalized form fuzzy-matching
// compares client model names against.
type BedrockModel struct {
	ModelID   string
	SearchKey string
}

// InferenceProfileInfo is the per-normalized-model aggregation the
// inference-profile cache stores: which geographic prefixes exist for
// this model, and whether a global/regional profile is available.
type InferenceProfileInfo struct {
	ModelID          string // normalized
	Geographic       []string
	SupportsGlobal   bool
	SupportsRegional bool
}

// CacheEntry wraps a cached value with the timestamp it was fetched, letting a
// TTL-bounded cache decide staleness without a background sweep goroutine per
// entry.
type CacheEntry[T any] struct {
	Value     T
	FetchedAt time.Time
}

func (e CacheEntry[T]) Expired(ttl time.Duration) bool {
	return time.Since(e.FetchedAt) > ttl
}

// PKCEChallenge is the verifier/challenge pair generated for an OAuth
// authorization-code-with-PKCE flow (RFC 7636).
type PKCEChallenge struct {
	Verifier  string
	Challenge string
}
