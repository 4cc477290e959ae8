package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/anthropic-gateway/core/providers/bedrock"
	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

type fakeModelLister struct {
	models []schemas.BedrockModel
}

func (f *fakeModelLister) ListModels(_ context.Context, _ string) ([]schemas.BedrockModel, error) {
	return f.models, nil
}

type noopProfileLister struct{}

func (f *noopProfileLister) ListInferenceProfiles(_ context.Context, _ string) ([]bedrock.RawProfile, error) {
	return nil, nil
}

func newTestBedrockProvider() *BedrockProvider {
	models := bedrock.NewModelCache(&fakeModelLister{}, nil)
	profiles := bedrock.NewProfileCache(&noopProfileLister{}, nil)
	return NewBedrockProvider(&schemas.ProviderConfig{}, nil, models, profiles)
}

func TestBedrockBuildURLUsesRegionFromCustomEndpoint(t *testing.T) {
	p := newTestBedrockProvider()
	account := &schemas.Account{CustomEndpoint: "bedrock:default:us-west-2"}
	got := p.BuildURL("/v1/messages", url.Values{}, account)
	assert.Equal(t, "https://bedrock-runtime.us-west-2.amazonaws.com", got)
}

func TestBedrockBuildURLReturnsEmptyOnMalformedCustomEndpoint(t *testing.T) {
	p := newTestBedrockProvider()
	got := p.BuildURL("/v1/messages", url.Values{}, &schemas.Account{CustomEndpoint: "not-bedrock-shaped"})
	assert.Empty(t, got)
}

func TestBedrockCanHandleRequiresMessagesPrefix(t *testing.T) {
	p := newTestBedrockProvider()
	assert.True(t, p.CanHandle("/v1/messages"))
	assert.False(t, p.CanHandle("/v1/complete"))
}

func TestBedrockPrepareHeadersStripsHopByHopAndNeverSetsAuthorization(t *testing.T) {
	p := newTestBedrockProvider()
	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer client-supplied")
	inbound.Set("X-Api-Key", "client-key")
	inbound.Set("Accept-Encoding", "gzip")
	inbound.Set("X-Custom", "keep-me")

	out := p.PrepareHeaders(inbound, "ignored-access-token", "ignored-api-key")
	assert.Empty(t, out.Get("Authorization"))
	assert.Empty(t, out.Get("X-Api-Key"))
	assert.Empty(t, out.Get("Accept-Encoding"))
	assert.Equal(t, "keep-me", out.Get("X-Custom"))
}

func TestBedrockParseRateLimit429(t *testing.T) {
	p := newTestBedrockProvider()
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusTooManyRequests)
	resp := rec.Result()

	info := p.ParseRateLimit(resp, nil)
	assert.True(t, info.IsRateLimited)
}

func TestBedrockParseRateLimitNotLimited(t *testing.T) {
	p := newTestBedrockProvider()
	rec := httptest.NewRecorder()
	rec.WriteHeader(http.StatusOK)
	resp := rec.Result()

	info := p.ParseRateLimit(resp, nil)
	assert.False(t, info.IsRateLimited)
}

func TestBedrockTransformRequestBodyStashesResolvedModelID(t *testing.T) {
	p := newTestBedrockProvider()
	account := &schemas.Account{CustomEndpoint: "bedrock:default:us-east-1"}

	in := `{"model":"claude-opus-4-6","messages":[{"role":"user","content":"hello"}],"max_tokens":128}`
	out, err := p.TransformRequestBody([]byte(in), account)
	require.NoError(t, err)
	assert.NotEmpty(t, account.ResolvedModelID)
	assert.Contains(t, string(out), `"content":[{"text":"hello"}]`)
}

func TestBedrockTransformRequestBodyErrorsOnNoNonEmptyMessages(t *testing.T) {
	p := newTestBedrockProvider()
	account := &schemas.Account{CustomEndpoint: "bedrock:default:us-east-1"}

	in := `{"model":"claude-opus-4-6","messages":[{"role":"user","content":"   "}]}`
	_, err := p.TransformRequestBody([]byte(in), account)
	assert.Error(t, err)
}

func TestBedrockProcessResponsePrefersResolvedModelIDOverHeader(t *testing.T) {
	p := newTestBedrockProvider()
	account := &schemas.Account{ResolvedModelID: "claude-opus-4-6-20260115"}

	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.Header().Set("x-bedrock-model-id", "us.anthropic.claude-opus-4-6-20260115-v1:0")
	resp := rec.Result()

	body := []byte(`{"output":{"message":{"content":[{"text":"hi"}]}},"stopReason":"end_turn","usage":{"inputTokens":3,"outputTokens":2}}`)
	out, err := p.ProcessResponse(resp, body, account)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"model":"claude-opus-4-6-20260115"`)
}

func TestBedrockProcessResponseFallsBackToHeaderWhenResolvedModelIDEmpty(t *testing.T) {
	p := newTestBedrockProvider()

	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.Header().Set("x-bedrock-model-id", "us.anthropic.claude-opus-4-6-20260115-v1:0")
	resp := rec.Result()

	body := []byte(`{"output":{"message":{"content":[]}},"stopReason":"end_turn","usage":{"inputTokens":1,"outputTokens":1}}`)
	out, err := p.ProcessResponse(resp, body, &schemas.Account{})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"model":"us.anthropic.claude-opus-4-6-20260115-v1:0"`)
}

func TestBedrockProcessResponsePassesThroughStreamingBody(t *testing.T) {
	p := newTestBedrockProvider()

	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "text/event-stream")
	resp := rec.Result()

	body := []byte("data: {}\n\n")
	out, err := p.ProcessResponse(resp, body, &schemas.Account{})
	require.NoError(t, err)
	assert.Equal(t, body, out)
}

func TestBedrockProcessResponseTranslatesErrorStatus(t *testing.T) {
	p := newTestBedrockProvider()

	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteHeader(http.StatusBadRequest)
	resp := rec.Result()

	body := []byte(`{"__type":"ValidationException","message":"bad request"}`)
	_, err := p.ProcessResponse(resp, body, &schemas.Account{})
	require.Error(t, err)
	var upstreamErr *schemas.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusBadRequest, upstreamErr.StatusCode)
}

func TestBedrockRefreshTokenErrorsOnMalformedCustomEndpoint(t *testing.T) {
	p := newTestBedrockProvider()
	_, err := p.RefreshToken(context.Background(), &schemas.Account{CustomEndpoint: "bad"}, "")
	assert.Error(t, err)
}
