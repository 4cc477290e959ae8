// Package schemas defines the core data model and collaborator interfaces shared
// by every provider adapter: accounts, tokens, rate limits, usage, and the Provider
// contract itself.
package schemas

import "time"

// ModelProvider identifies a concrete upstream adapter.
type ModelProvider string

const (
	Anthropic           ModelProvider = "anthropic"
	AnthropicCompatible ModelProvider = "anthropic-compatible"
	Zai                 ModelProvider = "zai"
	Minimax             ModelProvider = "minimax"
	NanoGPT             ModelProvider = "nanogpt"
	OpenAICompatible    ModelProvider = "openai-compatible"
	Kilo                ModelProvider = "kilo"
	OpenRouter          ModelProvider = "openrouter"
	Bedrock             ModelProvider = "bedrock"
	Vertex              ModelProvider = "vertex"
)

// AuthType selects how an account's credential is attached to an upstream request.
type AuthType string

const (
	AuthTypeDirect AuthType = "direct" // credential sent as-is in the provider's native header
	AuthTypeOAuth  AuthType = "oauth"  // credential is an OAuth access token, subject to refresh
)

// Account is the persisted, provider-agnostic credential/config record the core
// resolves a request against. The concrete store backing it (DB, file, memory) is
// injected via AccountStore; the core never assumes a storage engine.
type Account struct {
	ID       string
	Provider ModelProvider

	// Direct credential (API key, static bearer token).
	APIKey string

	// OAuth state, only populated when AuthKind == AuthTypeOAuth.
	AuthKind     AuthType
	AccessToken  string
	RefreshToken string
	ClientID     string
	ExpiresAt    time.Time

	// Per-account overrides.
	CustomEndpoint string
	ModelMappings  map[string]string

	// Bedrock/Vertex credential material, resolved through the AWS/Google chains
	// when left empty rather than required up front.
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string
	GCPProjectID       string
	GCPRegion          string

	// Scheduling/observability, read by the core only — ownership and mutation
	// policy for these belongs to the host, never decided here.
	Name                string
	Priority            int
	Paused              bool
	RateLimitedUntil    time.Time
	AutoRefreshEnabled  bool
	AutoFallbackEnabled bool
	CrossRegionMode     string // "geographic" | "global" | "regional"

	// Best-effort usage counters, owned by the store, read/incremented by the core.
	CreatedAt           time.Time
	LastUsed            time.Time
	RequestCount        int64
	TotalRequests       int64
	SessionStart        time.Time
	SessionRequestCount int64

	// ResolvedModelID is per-request scratch space: providers whose request
	// transform and response transform disagree on what identifies a model
	// (Bedrock's Converse model ID differs from the client-facing Anthropic
	// model name) stash the resolved value here during TransformRequestBody
	// and read it back in ProcessResponse/Do. Callers must give each
	// in-flight request its own Account value rather than sharing one across
	// concurrent requests.
	ResolvedModelID string
}

// NeedsRefresh reports whether an OAuth account's access token is expiring within
// the given skew window and should be refreshed before use.
func (a *Account) NeedsRefresh(skew time.Duration) bool {
	if a.AuthKind != AuthTypeOAuth {
		return false
	}
	if a.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(skew).After(a.ExpiresAt)
}

// TokenRefreshResult is returned by Provider.RefreshToken on a successful refresh.
// RefreshToken is a pointer so the zero value ("") and "absent" are distinguishable:
// a non-nil empty string means "preserve the existing refresh token" (API-key
// providers return this, since the key itself never rotates); nil means the
// provider didn't supply one and the caller should leave it unchanged.
type TokenRefreshResult struct {
	AccessToken  string
	RefreshToken *string
	ExpiresAt    time.Time
}

// PreserveRefreshToken is the canonical "do not write back" sentinel: a non-nil
// pointer to an empty string.
func PreserveRefreshToken() *string {
	s := ""
	return &s
}

// AccountStore is the injected persistence collaborator. The core never embeds a
// concrete database; callers wire their own store (SQL, KV, in-memory) behind this
// interface.
type AccountStore interface {
	Get(id string) (*Account, error)
	Save(account *Account) error
}
