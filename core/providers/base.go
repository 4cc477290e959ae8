// Package providers implements the concrete Provider adapters on top of
// the shared base template and the utility packages.
package providers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaymesh/anthropic-gateway/core/providers/utils"
	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// Base holds the defaults every concrete adapter embeds and overrides
// selectively: canHandle defaults to true, prepareHeaders strips
// hop-by-hop/compression headers and injects a bearer token, the default
// rate-limit parser is the unified-headers-then-retry-after chain, and
// processResponse is the identity transform.
type Base struct {
	ProviderName schemas.ModelProvider
	Logger       schemas.Logger
	Network      schemas.NetworkConfig
}

func (b *Base) Name() schemas.ModelProvider { return b.ProviderName }

// CanHandle defaults to accepting every path; adapters that must reject
// specific paths (OpenAI, Bedrock, Vertex) override this.
func (b *Base) CanHandle(_ string) bool { return true }

// PrepareHeaders strips host/accept-encoding/content-encoding and, when a
// token is supplied, sets an Authorization bearer header — the base-provider
// default from. Concrete adapters that use x-api-key or a different auth
// scheme override this entirely.
func (b *Base) PrepareHeaders(inbound http.Header, accessToken, apiKey string) http.Header {
	haveCredential := accessToken != "" || apiKey != ""
	out := utils.SanitizeHeaders(inbound, haveCredential)
	out.Del("Accept-Encoding")
	out.Del("Content-Encoding")
	out.Del("Host")
	if accessToken != "" {
		out.Set("Authorization", "Bearer "+accessToken)
	}
	return utils.ExtraHeaders(out, b.Network.ExtraHeaders, false)
}

// ParseRateLimit is the base-provider default rate-limit parser: unified
// headers, else not-limited-unless-429, else retry-after.
func (b *Base) ParseRateLimit(resp *http.Response, _ []byte) *schemas.RateLimitInfo {
	return utils.DefaultParseRateLimit(resp)
}

// ProcessResponse is the identity transform: the base provider does not
// reshape the response body.
func (b *Base) ProcessResponse(_ *http.Response, body []byte, _ *schemas.Account) ([]byte, error) {
	return body, nil
}

// SupportsOAuth/GetOAuthProvider default to "no OAuth"; only the Anthropic
// adapter overrides these.
func (b *Base) SupportsOAuth() bool                    { return false }
func (b *Base) GetOAuthProvider() schemas.OAuthProvider { return nil }

// IsStreamingResponse is the default detector: content-type contains
// text/event-stream.
func (b *Base) IsStreamingResponse(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream")
}

// ResolveBaseURL validates a custom endpoint (must parse as an http/https URL)
// and falls back to fallback, logging a warning rather than failing: BuildURL
// must never throw on a malformed custom_endpoint.
func ResolveBaseURL(custom, fallback string, logger schemas.Logger) string {
	if custom == "" {
		return fallback
	}
	u, err := url.Parse(custom)
	if err != nil || u.Scheme == "" || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		if logger != nil {
			logger.Warn("invalid custom_endpoint, falling back to provider default", schemas.F("custom_endpoint", custom), schemas.F("fallback", fallback))
		}
		return fallback
	}
	return strings.TrimRight(custom, "/")
}

// JoinURL composes base + path + query, never erroring.
func JoinURL(base, path string, query url.Values) string {
	u := strings.TrimRight(base, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// ErrOAuthNotSupported is returned by RefreshToken implementations on adapters
// with no OAuth flow of their own.
var ErrOAuthNotSupported = fmt.Errorf("provider does not support OAuth")

// noopRefresh is embedded by adapters whose accounts are never OAuth-backed
// (anthropic-compatible family, OpenAI-compatible family): RefreshToken simply
// validates the API key is present and returns the key itself as the access
// token, the preserve-refresh-token sentinel, and a far-future expiry.
func noopRefresh(account *schemas.Account) (*schemas.TokenRefreshResult, error) {
	if account.APIKey == "" {
		return nil, fmt.Errorf("account %s has no api_key configured", account.ID)
	}
	return &schemas.TokenRefreshResult{
		AccessToken:  account.APIKey,
		RefreshToken: schemas.PreserveRefreshToken(),
		ExpiresAt:    farFutureExpiry(),
	}, nil
}

// farFutureExpiry is the "long expiry" sentinel API-key credentials get, since
// the key itself never rotates on its own.
func farFutureExpiry() time.Time {
	return time.Now().AddDate(10, 0, 0)
}
