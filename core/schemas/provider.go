package schemas

import (
	"context"
	"net/http"
	"net/url"
)

// Provider is the contract every upstream adapter implements. The core drives
// calls in a fixed order — see Invoke — and never inlines provider-specific
// branching outside an adapter: canHandle → refreshToken (if expiring) →
// transformRequestBody → <transport> → processResponse → parseRateLimit →
// extractUsageInfo. BuildURL and PrepareHeaders are called by each adapter's
// own Transport implementation, not by the core driver.
type Provider interface {
	// Name returns the adapter's registry key.
	Name() ModelProvider

	// CanHandle reports whether this adapter owns the given inbound request path
	// (e.g. "/v1/messages", "/v1/messages/count_tokens").
	CanHandle(path string) bool

	// RefreshToken exchanges a stored refresh token for a new access token. Only
	// meaningful for OAuth-backed accounts; adapters with no OAuth support return
	// ErrOAuthNotSupported.
	RefreshToken(ctx context.Context, account *Account, clientID string) (*TokenRefreshResult, error)

	// BuildURL resolves the final upstream URL for the given inbound path and
	// query string. Never returns an error — on misconfiguration it falls back
	// to a provider default and logs.
	BuildURL(path string, query url.Values, account *Account) string

	// PrepareHeaders returns the outbound header set, stripped of client-supplied
	// authentication and populated with the resolved credential.
	PrepareHeaders(inbound http.Header, accessToken, apiKey string) http.Header

	// ParseRateLimit extracts rate-limit information from a completed response.
	ParseRateLimit(resp *http.Response, body []byte) *RateLimitInfo

	// ProcessResponse normalizes a completed upstream response, translating
	// provider-specific error bodies into UpstreamError where applicable.
	ProcessResponse(resp *http.Response, body []byte, account *Account) ([]byte, error)
}

// RequestTransformer is implemented by adapters whose wire format differs from
// the inbound Anthropic Messages shape (OpenAI-compatible, Bedrock, Vertex).
type RequestTransformer interface {
	TransformRequestBody(body []byte, account *Account) ([]byte, error)
}

// TierInfoExtractor is implemented by adapters that can read an account tier /
// plan signal off a response (used by the usage fetcher).
type TierInfoExtractor interface {
	ExtractTierInfo(resp *http.Response, body []byte) (string, bool)
}

// UsageExtractor is implemented by adapters that can read token usage off a
// completed (or streamed-and-reassembled) response body.
type UsageExtractor interface {
	ExtractUsageInfo(body []byte) (TokenCounts, bool)
}

// StreamDetector lets an adapter declare whether a given response is SSE-framed,
// so the core can route it through the streaming tee path instead of buffering.
type StreamDetector interface {
	IsStreamingResponse(resp *http.Response) bool
}

// OAuthCapable is implemented by adapters that support an OAuth-authenticated
// account flavor (currently only Anthropic).
type OAuthCapable interface {
	SupportsOAuth() bool
	GetOAuthProvider() OAuthProvider
}

// OAuthProvider is the PKCE-based authorization-code flow contract.
type OAuthProvider interface {
	AuthorizeURL(state string, challenge string) string
	ExchangeCode(ctx context.Context, code, verifier string) (*TokenRefreshResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error)
}
