package providers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tidwall/sjson"
	"github.com/valyala/fasthttp"

	"github.com/relaymesh/anthropic-gateway/core/providers/utils"
	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// authHeader/authType select how the credential is attached.
type authHeader string
type authType string

const (
	authHeaderXAPIKey       authHeader = "x-api-key"
	authHeaderAuthorization authHeader = "authorization"

	authTypeBearer authType = "bearer"
	authTypeDirect authType = "direct"
)

// AnthropicCompatibleProvider is the shared base for Zai, Minimax, NanoGPT and
// the fully-generic AnthropicCompatible adapter: API-key auth
// with a configurable header/scheme, a fixed-or-account endpoint, an optional
// forced model override, and the Anthropic-format SSE usage extractor reused
// verbatim since the wire schema is identical.
type AnthropicCompatibleProvider struct {
	Base
	client        *fasthttp.Client
	fixedEndpoint string // "" means account.custom_endpoint is authoritative (and, for AnthropicCompatible, mandatory)
	header        authHeader
	scheme        authType
	forcedModel   string // non-empty forces every request's model field (Minimax)
	staticMapping map[string]string
	requireCustom bool // AnthropicCompatible: refuse to build a URL without account.custom_endpoint
}

func newAnthropicCompatibleBase(name schemas.ModelProvider, cfg *schemas.ProviderConfig, logger schemas.Logger, fixedEndpoint string, header authHeader, scheme authType, forcedModel string, staticMapping map[string]string, requireCustom bool) AnthropicCompatibleProvider {
	cfg.CheckAndSetDefaults()
	return AnthropicCompatibleProvider{
		Base: Base{
			ProviderName: name,
			Logger:       logger,
			Network:      cfg.NetworkConfig,
		},
		client: &fasthttp.Client{
			ReadTimeout:     time.Duration(cfg.NetworkConfig.DefaultRequestTimeoutInSeconds) * time.Second,
			WriteTimeout:    time.Duration(cfg.NetworkConfig.DefaultRequestTimeoutInSeconds) * time.Second,
			MaxConnsPerHost: cfg.NetworkConfig.MaxConnsPerHost,
		},
		fixedEndpoint: fixedEndpoint,
		header:        header,
		scheme:        scheme,
		forcedModel:   forcedModel,
		staticMapping: staticMapping,
		requireCustom: requireCustom,
	}
}

// NewZaiProvider builds the z.ai adapter: fixed endpoint, x-api-key direct auth.
func NewZaiProvider(cfg *schemas.ProviderConfig, logger schemas.Logger) *AnthropicCompatibleProvider {
	p := newAnthropicCompatibleBase(schemas.Zai, cfg, logger, "https://api.z.ai/api/anthropic", authHeaderXAPIKey, authTypeDirect, "", nil, false)
	return &p
}

// NewMinimaxProvider builds the Minimax adapter: fixed endpoint, forced model.
func NewMinimaxProvider(cfg *schemas.ProviderConfig, logger schemas.Logger) *AnthropicCompatibleProvider {
	p := newAnthropicCompatibleBase(schemas.Minimax, cfg, logger, "https://api.minimax.io/anthropic", authHeaderXAPIKey, authTypeDirect, "MiniMax-M2", nil, false)
	return &p
}

// NewNanoGPTProvider builds the NanoGPT adapter: account-configurable endpoint.
func NewNanoGPTProvider(cfg *schemas.ProviderConfig, logger schemas.Logger) *AnthropicCompatibleProvider {
	p := newAnthropicCompatibleBase(schemas.NanoGPT, cfg, logger, "", authHeaderXAPIKey, authTypeDirect, "", nil, false)
	return &p
}

// NewAnthropicCompatibleProvider builds the fully generic adapter:
// custom_endpoint mandatory, x-api-key/direct defaults, no static fallback table.
func NewAnthropicCompatibleProvider(cfg *schemas.ProviderConfig, logger schemas.Logger) *AnthropicCompatibleProvider {
	p := newAnthropicCompatibleBase(schemas.AnthropicCompatible, cfg, logger, "", authHeaderXAPIKey, authTypeDirect, "", nil, true)
	return &p
}

func (p *AnthropicCompatibleProvider) BuildURL(path string, query url.Values, account *schemas.Account) string {
	endpoint := p.fixedEndpoint
	if account != nil && account.CustomEndpoint != "" {
		endpoint = account.CustomEndpoint
	}
	if endpoint == "" {
		if p.requireCustom && p.Logger != nil {
			p.Logger.Warn("anthropic-compatible account missing custom_endpoint", schemas.F("account", accountID(account)))
		}
		endpoint = "https://invalid.anthropic-compatible.local"
	}
	base := ResolveBaseURL(endpoint, endpoint, p.Logger)
	return JoinURL(base, path, query)
}

func accountID(a *schemas.Account) string {
	if a == nil {
		return ""
	}
	return a.ID
}

// PrepareHeaders strips accept-encoding/content-encoding/host and always
// replaces any client-supplied Authorization/x-api-key with the adapter's
// own credential in whichever header/scheme it was configured for.
func (p *AnthropicCompatibleProvider) PrepareHeaders(inbound http.Header, accessToken, apiKey string) http.Header {
	out := utils.SanitizeHeaders(inbound, true)
	out.Del("Accept-Encoding")
	out.Del("Content-Encoding")
	out.Del("Host")

	credential := apiKey
	if credential == "" {
		credential = accessToken
	}
	if credential != "" {
		switch p.header {
		case authHeaderXAPIKey:
			out.Set("x-api-key", credential)
		case authHeaderAuthorization:
			if p.scheme == authTypeBearer {
				out.Set("Authorization", "Bearer "+credential)
			} else {
				out.Set("Authorization", credential)
			}
		}
	}
	return utils.ExtraHeaders(out, p.Network.ExtraHeaders, false)
}

// RefreshToken: this family is always API-key backed (no OAuth).
func (p *AnthropicCompatibleProvider) RefreshToken(_ context.Context, account *schemas.Account, _ string) (*schemas.TokenRefreshResult, error) {
	return noopRefresh(account)
}

// TransformRequestBody applies model-mapping precedence and the forced
// model override (Minimax).
func (p *AnthropicCompatibleProvider) TransformRequestBody(body []byte, account *schemas.Account) ([]byte, error) {
	if p.forcedModel != "" {
		out, err := sjson.SetBytes(body, "model", p.forcedModel)
		if err != nil {
			return body, err
		}
		return out, nil
	}

	var parsed struct {
		Model string `json:"model"`
	}
	if err := sonic.Unmarshal(body, &parsed); err != nil || parsed.Model == "" {
		return body, nil
	}

	var accountMappings map[string]string
	if account != nil {
		accountMappings = account.ModelMappings
	}
	resolved := utils.ResolveModel(parsed.Model, accountMappings, nil, p.staticMapping)
	if resolved == parsed.Model {
		return body, nil
	}
	return sjson.SetBytes(body, "model", resolved)
}

// ParseRateLimit applies the unified precedence, with z.ai's body parser
// layered on top for 429s whose headers carry no reset time.
func (p *AnthropicCompatibleProvider) ParseRateLimit(resp *http.Response, body []byte) *schemas.RateLimitInfo {
	if info, ok := utils.ParseUnifiedHeaders(resp.Header); ok {
		return info
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		info := &schemas.RateLimitInfo{IsRateLimited: true, StatusHeader: "429"}
		if retry := utils.ParseRetryAfter(resp.Header); retry != nil {
			info.ResetTime = retry
			return info
		}
		if p.ProviderName == schemas.Zai {
			if zaiInfo := utils.ParseZaiRateLimitBody(body); zaiInfo != nil {
				return zaiInfo
			}
		}
		return info
	}
	return &schemas.RateLimitInfo{IsRateLimited: false}
}

func (p *AnthropicCompatibleProvider) ExtractUsageInfo(body []byte) (schemas.TokenCounts, bool) {
	return utils.ExtractAnthropicJSONUsage(body)
}

func (p *AnthropicCompatibleProvider) ExtractStreamUsageInfo(ctx context.Context, r io.Reader, maxBytes int64) (schemas.TokenCounts, bool) {
	return utils.ExtractAnthropicSSEUsage(ctx, r, maxBytes)
}

// Do mirrors AnthropicProvider.Do: a plain fasthttp POST against the resolved
// endpoint, returning headers and body for the caller's pipeline.
func (p *AnthropicCompatibleProvider) Do(ctx context.Context, account *schemas.Account, path string, query url.Values, body []byte, accessToken, apiKey string) (*http.Response, []byte, error) {
	reqURL := p.BuildURL(path, query, account)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(reqURL)
	req.Header.SetMethod(http.MethodPost)
	req.Header.SetContentType("application/json")

	credential := apiKey
	if credential == "" {
		credential = accessToken
	}
	if credential != "" {
		switch p.header {
		case authHeaderXAPIKey:
			req.Header.Set("x-api-key", credential)
		case authHeaderAuthorization:
			if p.scheme == authTypeBearer {
				req.Header.Set("Authorization", "Bearer "+credential)
			} else {
				req.Header.Set("Authorization", credential)
			}
		}
	}
	for k, v := range p.Network.ExtraHeaders {
		req.Header.Set(k, v)
	}
	req.SetBody(body)

	if err := p.client.DoDeadline(req, resp, deadlineFromContext(ctx)); err != nil {
		return nil, nil, err
	}

	httpResp := &http.Response{StatusCode: resp.StatusCode(), Header: make(http.Header)}
	resp.Header.VisitAll(func(k, v []byte) {
		httpResp.Header.Add(string(k), string(v))
	})
	respBody := append([]byte(nil), resp.Body()...)
	return httpResp, respBody, nil
}
