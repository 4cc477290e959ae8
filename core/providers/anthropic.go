package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/relaymesh/anthropic-gateway/core/oauth"
	"github.com/relaymesh/anthropic-gateway/core/providers/utils"
	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
)

// AnthropicProvider is the authoritative adapter: it owns both the
// API-key and OAuth credential modes, the unified-header rate-limit parser,
// and the tiered usage/tier extraction Anthropic alone supports.
type AnthropicProvider struct {
	Base
	client       *fasthttp.Client
	oauth        schemas.OAuthProvider
	costEstimate schemas.CostEstimator
}

// anthropicReqPool amortizes request/response allocation across calls via a
// sync.Pool around the fasthttp request type.
var anthropicReqPool = sync.Pool{New: func() any { return &fasthttp.Request{} }}

func NewAnthropicProvider(cfg *schemas.ProviderConfig, logger schemas.Logger) *AnthropicProvider {
	cfg.CheckAndSetDefaults()
	client := &fasthttp.Client{
		ReadTimeout:     time.Duration(cfg.NetworkConfig.DefaultRequestTimeoutInSeconds) * time.Second,
		WriteTimeout:    time.Duration(cfg.NetworkConfig.DefaultRequestTimeoutInSeconds) * time.Second,
		MaxConnsPerHost: cfg.NetworkConfig.MaxConnsPerHost,
	}
	if cfg.NetworkConfig.BaseURL == "" {
		cfg.NetworkConfig.BaseURL = anthropicDefaultBaseURL
	}
	return &AnthropicProvider{
		Base: Base{
			ProviderName: schemas.Anthropic,
			Logger:       logger,
			Network:      cfg.NetworkConfig,
		},
		client:       client,
		oauth:        oauth.NewAnthropicOAuthProvider(),
		costEstimate: cfg.CostEstimator,
	}
}

func (p *AnthropicProvider) SupportsOAuth() bool                    { return true }
func (p *AnthropicProvider) GetOAuthProvider() schemas.OAuthProvider { return p.oauth }

// RefreshToken implements the two-mode credential contract of: API-key
// accounts return the key itself with a far-future expiry and a preserved
// refresh token (no DB writeback); OAuth accounts exchange the
// refresh token against console.anthropic.com.
func (p *AnthropicProvider) RefreshToken(ctx context.Context, account *schemas.Account, clientID string) (*schemas.TokenRefreshResult, error) {
	if account.AuthKind != schemas.AuthTypeOAuth {
		return noopRefresh(account)
	}
	if account.RefreshToken == "" {
		return nil, &schemas.TokenRefreshError{Account: account.ID, Message: "no refresh_token on account"}
	}

	payload, _ := sonic.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": account.RefreshToken,
		"client_id":     clientID,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://console.anthropic.com/v1/oauth/token", bytes.NewReader(payload))
	if err != nil {
		return nil, &schemas.TokenRefreshError{Account: account.ID, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, &schemas.TokenRefreshError{Account: account.ID, Message: err.Error()}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg := parseAnthropicErrorMessage(body)
		if resp.StatusCode == http.StatusUnauthorized &&
			(strings.Contains(msg, "OAuth authentication is currently not supported") ||
				strings.Contains(msg, "invalid_grant") ||
				strings.Contains(msg, "invalid_refresh_token")) {
			refreshErr := &schemas.TokenRefreshError{Account: account.ID, Message: msg, StatusCode: resp.StatusCode}
			return nil, &schemas.ReauthRequiredError{Account: account.ID, Reason: msg, Cause: refreshErr}
		}
		return nil, &schemas.TokenRefreshError{Account: account.ID, Message: msg, StatusCode: resp.StatusCode}
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := sonic.Unmarshal(body, &tok); err != nil {
		return nil, &schemas.TokenRefreshError{Account: account.ID, Message: "malformed token response: " + err.Error()}
	}

	result := &schemas.TokenRefreshResult{
		AccessToken: tok.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	if tok.RefreshToken != "" {
		result.RefreshToken = &tok.RefreshToken
	} else {
		// upstream omitted refresh_token: keep the old one.
		old := account.RefreshToken
		result.RefreshToken = &old
	}
	return result, nil
}

func parseAnthropicErrorMessage(body []byte) string {
	var e struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := sonic.Unmarshal(body, &e); err == nil {
		if e.ErrorDescription != "" {
			return e.ErrorDescription
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return string(body)
}

func (p *AnthropicProvider) BuildURL(path string, query url.Values, account *schemas.Account) string {
	custom := ""
	if account != nil {
		custom = account.CustomEndpoint
	}
	base := ResolveBaseURL(custom, anthropicDefaultBaseURL, p.Logger)
	return JoinURL(base, path, query)
}

// PrepareHeaders applies the header rules: always delete client
// Authorization, set either a bearer token or x-api-key, strip compression and
// host headers.
func (p *AnthropicProvider) PrepareHeaders(inbound http.Header, accessToken, apiKey string) http.Header {
	out := utils.SanitizeHeaders(inbound, true)
	out.Del("Accept-Encoding")
	out.Del("Content-Encoding")
	out.Del("Host")
	out.Set("anthropic-version", anthropicAPIVersion)
	if accessToken != "" {
		out.Set("Authorization", "Bearer "+accessToken)
	} else if apiKey != "" {
		out.Set("x-api-key", apiKey)
	}
	return utils.ExtraHeaders(out, p.Network.ExtraHeaders, false)
}

// ParseRateLimit uses the unified rate-limit headers when present; otherwise a
// 429 is limited with its reset taken from x-ratelimit-reset, or now + 60s.
func (p *AnthropicProvider) ParseRateLimit(resp *http.Response, _ []byte) *schemas.RateLimitInfo {
	if info, ok := utils.ParseUnifiedHeaders(resp.Header); ok {
		return info
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		info := &schemas.RateLimitInfo{IsRateLimited: true, StatusHeader: "429"}
		if reset := utils.AnthropicRateLimitReset(resp.Header); reset != nil {
			info.ResetTime = reset
		} else {
			ms := time.Now().Add(60 * time.Second).UnixMilli()
			info.ResetTime = &ms
		}
		return info
	}
	return &schemas.RateLimitInfo{IsRateLimited: false}
}

// ExtractTierInfo maps usage.rate_limit_tokens to a tier via the
// thresholds: <=200k -> 1, <=800k -> 5, else 20.
func (p *AnthropicProvider) ExtractTierInfo(resp *http.Response, body []byte) (string, bool) {
	var parsed struct {
		Usage struct {
			RateLimitTokens int64 `json:"rate_limit_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false
	}
	tokens := parsed.Usage.RateLimitTokens
	if tokens == 0 {
		return "", false
	}
	switch {
	case tokens <= 200_000:
		return "1", true
	case tokens <= 800_000:
		return "5", true
	default:
		return "20", true
	}
}

// ExtractUsageInfo reads usage from a non-streaming JSON body. SSE bodies go
// through ExtractStreamUsageInfo, and cost through CostFromHeader.
func (p *AnthropicProvider) ExtractUsageInfo(body []byte) (schemas.TokenCounts, bool) {
	return utils.ExtractAnthropicJSONUsage(body)
}

// ExtractStreamUsageInfo is the SSE counterpart, used by the host when
// processResponse determined the response is streaming.
func (p *AnthropicProvider) ExtractStreamUsageInfo(ctx context.Context, r io.Reader, maxBytes int64) (schemas.TokenCounts, bool) {
	return utils.ExtractAnthropicSSEUsage(ctx, r, maxBytes)
}

// CostFromHeader reads anthropic-billing-cost when present; otherwise the
// caller should fall back to the injected CostEstimator.
func (p *AnthropicProvider) CostFromHeader(resp *http.Response, counts schemas.TokenCounts, model string) float64 {
	if v := resp.Header.Get("anthropic-billing-cost"); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f
		}
	}
	if p.costEstimate != nil {
		return p.costEstimate(model, counts)
	}
	return 0
}

// Do sends a prepared Anthropic Messages request and returns the raw response
// bytes plus the *http.Response for header inspection (rate limit, tier,
// streaming detection) by the caller. The whole response body is buffered
// before returning.
func (p *AnthropicProvider) Do(ctx context.Context, account *schemas.Account, path string, query url.Values, body []byte, accessToken, apiKey string) (*http.Response, []byte, error) {
	reqURL := p.BuildURL(path, query, account)

	req := anthropicReqPool.Get().(*fasthttp.Request)
	resp := fasthttp.AcquireResponse()
	defer func() {
		req.Reset()
		anthropicReqPool.Put(req)
	}()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(reqURL)
	req.Header.SetMethod(http.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	} else if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	for k, v := range p.Network.ExtraHeaders {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	if err := p.client.DoDeadline(req, resp, deadlineFromContext(ctx)); err != nil {
		return nil, nil, err
	}

	httpResp := &http.Response{
		StatusCode: resp.StatusCode(),
		Header:     make(http.Header),
	}
	resp.Header.VisitAll(func(k, v []byte) {
		httpResp.Header.Add(string(k), string(v))
	})
	respBody := append([]byte(nil), resp.Body()...)
	return httpResp, respBody, nil
}

func deadlineFromContext(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return time.Now().Add(60 * time.Second)
}
