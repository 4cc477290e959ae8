package core

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// Transport is implemented by every adapter whose upstream call can be driven
// through the common fasthttp-based request/response shape (Anthropic,
// AnthropicCompatible, OpenAICompatible). Bedrock and Vertex have distinct
// transport needs (SigV4 signing, Google ADC) and are invoked directly by
// their own Do methods rather than through this interface.
type Transport interface {
	Do(ctx context.Context, account *schemas.Account, path string, query url.Values, body []byte, accessToken, apiKey string) (*http.Response, []byte, error)
}

// InvokeResult is what Invoke hands back once the fixed pipeline completes.
type InvokeResult struct {
	Response  *http.Response
	Body      []byte
	RateLimit *schemas.RateLimitInfo
	Usage     schemas.TokenCounts
	HasUsage  bool
}

// Invoke drives a single request through the fixed operation order: canHandle
// -> refreshToken (if expiring) -> transformRequestBody -> transport ->
// processResponse -> parseRateLimit -> extractUsageInfo. skew bounds how far
// ahead of expiry a refresh is triggered.
func Invoke(ctx context.Context, p schemas.Provider, transport Transport, account *schemas.Account, clientID string, path string, query url.Values, inboundHeaders http.Header, body []byte, accessToken, apiKey string, skew time.Duration) (*InvokeResult, error) {
	if !p.CanHandle(path) {
		return nil, &schemas.UpstreamError{StatusCode: http.StatusNotFound, Kind: schemas.ValidationError, Message: "provider " + string(p.Name()) + " cannot handle path " + path}
	}

	if account.NeedsRefresh(skew) {
		result, err := p.RefreshToken(ctx, account, clientID)
		if err != nil {
			return nil, err
		}
		accessToken = result.AccessToken
		apiKey = result.AccessToken
		account.AccessToken = result.AccessToken
		account.ExpiresAt = result.ExpiresAt
		if result.RefreshToken != nil && *result.RefreshToken != "" {
			account.RefreshToken = *result.RefreshToken
		}
	}

	outBody := body
	if transformer, ok := p.(schemas.RequestTransformer); ok {
		transformed, err := transformer.TransformRequestBody(body, account)
		if err != nil {
			return nil, err
		}
		outBody = transformed
	}

	// BuildURL and PrepareHeaders are not called here: each Transport.Do
	// implementation resolves its own URL and headers from account/path/query
	// and the credential pair, so calling them again here would only compute
	// a value nothing reads.
	resp, respBody, err := transport.Do(ctx, account, path, query, outBody, accessToken, apiKey)
	if err != nil {
		return nil, err
	}

	processed, err := p.ProcessResponse(resp, respBody, account)
	if err != nil {
		return &InvokeResult{Response: resp, Body: respBody, RateLimit: p.ParseRateLimit(resp, respBody)}, err
	}

	result := &InvokeResult{
		Response:  resp,
		Body:      processed,
		RateLimit: p.ParseRateLimit(resp, processed),
	}
	if extractor, ok := p.(schemas.UsageExtractor); ok {
		if counts, ok := extractor.ExtractUsageInfo(processed); ok {
			result.Usage = counts.Normalize()
			result.HasUsage = true
		}
	}
	return result, nil
}
