package providers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

func TestZaiBuildURLUsesFixedEndpoint(t *testing.T) {
	p := NewZaiProvider(&schemas.ProviderConfig{}, nil)
	got := p.BuildURL("/v1/messages", url.Values{}, &schemas.Account{})
	assert.Equal(t, "https://api.z.ai/api/anthropic/v1/messages", got)
}

func TestNanoGPTBuildURLFallsBackWhenNoCustomEndpoint(t *testing.T) {
	p := NewNanoGPTProvider(&schemas.ProviderConfig{}, nil)
	got := p.BuildURL("/v1/messages", url.Values{}, &schemas.Account{})
	assert.Equal(t, "https://invalid.anthropic-compatible.local/v1/messages", got)
}

func TestNanoGPTBuildURLUsesAccountCustomEndpoint(t *testing.T) {
	p := NewNanoGPTProvider(&schemas.ProviderConfig{}, nil)
	got := p.BuildURL("/v1/messages", url.Values{}, &schemas.Account{CustomEndpoint: "https://my-nanogpt.invalid"})
	assert.Equal(t, "https://my-nanogpt.invalid/v1/messages", got)
}

func TestMinimaxTransformRequestBodyForcesModel(t *testing.T) {
	p := NewMinimaxProvider(&schemas.ProviderConfig{}, nil)
	out, err := p.TransformRequestBody([]byte(`{"model":"claude-opus-4-6","messages":[]}`), &schemas.Account{})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"model":"MiniMax-M2"`)
}

func TestZaiTransformRequestBodyAppliesAccountMapping(t *testing.T) {
	p := NewZaiProvider(&schemas.ProviderConfig{}, nil)
	account := &schemas.Account{ModelMappings: map[string]string{"claude-opus-4-6": "glm-4.6"}}
	out, err := p.TransformRequestBody([]byte(`{"model":"claude-opus-4-6"}`), account)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"model":"glm-4.6"`)
}

func TestZaiTransformRequestBodyNoMappingLeavesBodyUnchanged(t *testing.T) {
	p := NewZaiProvider(&schemas.ProviderConfig{}, nil)
	body := []byte(`{"model":"claude-opus-4-6"}`)
	out, err := p.TransformRequestBody(body, &schemas.Account{})
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestAnthropicCompatiblePrepareHeadersXAPIKeyScheme(t *testing.T) {
	p := NewZaiProvider(&schemas.ProviderConfig{}, nil)
	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer client-supplied")
	out := p.PrepareHeaders(inbound, "", "zai-key")
	assert.Equal(t, "zai-key", out.Get("x-api-key"))
}

func TestAnthropicCompatiblePrepareHeadersPrefersAPIKeyOverAccessToken(t *testing.T) {
	p := NewZaiProvider(&schemas.ProviderConfig{}, nil)
	out := p.PrepareHeaders(http.Header{}, "access-token", "api-key")
	assert.Equal(t, "api-key", out.Get("x-api-key"))
}

func TestZaiParseRateLimitBodyFallbackOnMissingHeaders(t *testing.T) {
	p := NewZaiProvider(&schemas.ProviderConfig{}, nil)
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusTooManyRequests)
	resp := rec.Result()

	body := []byte(`{"type":"error","error":{"type":"1308","message":"reset at 2026-08-01 00:00:00"}}`)
	info := p.ParseRateLimit(resp, body)
	require.NotNil(t, info)
	assert.True(t, info.IsRateLimited)
	require.NotNil(t, info.ResetTime)
}

func TestAnthropicCompatibleRefreshTokenRequiresAPIKey(t *testing.T) {
	p := NewZaiProvider(&schemas.ProviderConfig{}, nil)
	_, err := p.RefreshToken(nil, &schemas.Account{}, "")
	assert.Error(t, err)
}
