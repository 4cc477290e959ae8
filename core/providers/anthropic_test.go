package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

func newTestAnthropicProvider() *AnthropicProvider {
	cfg := &schemas.ProviderConfig{}
	return NewAnthropicProvider(cfg, nil)
}

func TestAnthropicBuildURLUsesDefaultWhenNoCustomEndpoint(t *testing.T) {
	p := newTestAnthropicProvider()
	got := p.BuildURL("/v1/messages", url.Values{}, &schemas.Account{})
	assert.Equal(t, "https://api.anthropic.com/v1/messages", got)
}

func TestAnthropicBuildURLHonorsCustomEndpoint(t *testing.T) {
	p := newTestAnthropicProvider()
	got := p.BuildURL("/v1/messages", url.Values{}, &schemas.Account{CustomEndpoint: "https://proxy.invalid"})
	assert.Equal(t, "https://proxy.invalid/v1/messages", got)
}

func TestAnthropicPrepareHeadersPrefersAccessTokenOverAPIKey(t *testing.T) {
	p := newTestAnthropicProvider()
	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer client-supplied")

	out := p.PrepareHeaders(inbound, "oauth-token", "api-key")
	assert.Equal(t, "Bearer oauth-token", out.Get("Authorization"))
	assert.Empty(t, out.Get("x-api-key"))
	assert.Equal(t, anthropicAPIVersion, out.Get("anthropic-version"))
}

func TestAnthropicPrepareHeadersFallsBackToAPIKey(t *testing.T) {
	p := newTestAnthropicProvider()
	out := p.PrepareHeaders(http.Header{}, "", "api-key-1")
	assert.Equal(t, "api-key-1", out.Get("x-api-key"))
	assert.Empty(t, out.Get("Authorization"))
}

func TestAnthropicRefreshTokenNoopsForAPIKeyAccount(t *testing.T) {
	p := newTestAnthropicProvider()
	account := &schemas.Account{ID: "acct-1", AuthKind: schemas.AuthTypeDirect, APIKey: "sk-test"}
	result, err := p.RefreshToken(context.Background(), account, "client-id")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", result.AccessToken)
}

func TestAnthropicRefreshTokenOAuthMissingRefreshTokenErrors(t *testing.T) {
	p := newTestAnthropicProvider()
	account := &schemas.Account{ID: "acct-1", AuthKind: schemas.AuthTypeOAuth}
	_, err := p.RefreshToken(context.Background(), account, "client-id")
	require.Error(t, err)
	var refreshErr *schemas.TokenRefreshError
	require.ErrorAs(t, err, &refreshErr)
}

func TestAnthropicParseRateLimitUnifiedHeadersTakePrecedence(t *testing.T) {
	p := newTestAnthropicProvider()
	rec := httptest.NewRecorder()
	rec.Header().Set("anthropic-ratelimit-unified-status", "allowed")
	rec.Header().Set("anthropic-ratelimit-unified-reset", "1700000000")
	rec.Header().Set("anthropic-ratelimit-unified-remaining", "100")
	resp := rec.Result()

	info := p.ParseRateLimit(resp, nil)
	require.NotNil(t, info)
	assert.False(t, info.IsRateLimited)
}

func TestAnthropicParseRateLimit429WithoutUnifiedHeadersUsesDefaultReset(t *testing.T) {
	p := newTestAnthropicProvider()
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusTooManyRequests)
	resp := rec.Result()
	resp.StatusCode = http.StatusTooManyRequests

	info := p.ParseRateLimit(resp, nil)
	require.NotNil(t, info)
	assert.True(t, info.IsRateLimited)
	require.NotNil(t, info.ResetTime)
}

func TestAnthropicExtractTierInfoThresholds(t *testing.T) {
	p := newTestAnthropicProvider()
	cases := []struct {
		tokens   int64
		wantTier string
	}{
		{100_000, "1"},
		{200_000, "1"},
		{500_000, "5"},
		{800_000, "5"},
		{2_000_000, "20"},
	}
	for _, tc := range cases {
		body := []byte(`{"usage":{"rate_limit_tokens":` + strconv.FormatInt(tc.tokens, 10) + `}}`)
		tier, ok := p.ExtractTierInfo(nil, body)
		require.True(t, ok)
		assert.Equal(t, tc.wantTier, tier)
	}
}

func TestAnthropicExtractTierInfoZeroTokensNotOK(t *testing.T) {
	p := newTestAnthropicProvider()
	_, ok := p.ExtractTierInfo(nil, []byte(`{"usage":{"rate_limit_tokens":0}}`))
	assert.False(t, ok)
}

func TestAnthropicCostFromHeaderPrefersHeaderOverEstimator(t *testing.T) {
	called := false
	cfg := &schemas.ProviderConfig{CostEstimator: func(model string, counts schemas.TokenCounts) float64 {
		called = true
		return 99
	}}
	p := NewAnthropicProvider(cfg, nil)

	rec := httptest.NewRecorder()
	rec.Header().Set("anthropic-billing-cost", "0.0042")
	resp := rec.Result()

	cost := p.CostFromHeader(resp, schemas.TokenCounts{}, "claude-opus-4-6")
	assert.InDelta(t, 0.0042, cost, 0.00001)
	assert.False(t, called)
}

func TestAnthropicCostFromHeaderFallsBackToEstimator(t *testing.T) {
	cfg := &schemas.ProviderConfig{CostEstimator: func(model string, counts schemas.TokenCounts) float64 {
		return 7.5
	}}
	p := NewAnthropicProvider(cfg, nil)

	rec := httptest.NewRecorder()
	resp := rec.Result()

	cost := p.CostFromHeader(resp, schemas.TokenCounts{}, "claude-opus-4-6")
	assert.Equal(t, 7.5, cost)
}
