package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tidwall/sjson"
	"github.com/valyala/fasthttp"
	"golang.org/x/oauth2/google"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// VertexProvider handles Google ADC credential resolution, the
// region-scoped publisher-model URL shape, the claude-family-YYYYMMDD ->
// claude-family@YYYYMMDD model-name conversion, and response patch-back of
// the original client model name.
type VertexProvider struct {
	Base
	client *fasthttp.Client
}

func NewVertexProvider(cfg *schemas.ProviderConfig, logger schemas.Logger) *VertexProvider {
	cfg.CheckAndSetDefaults()
	return &VertexProvider{
		Base: Base{
			ProviderName: schemas.Vertex,
			Logger:       logger,
			Network:      cfg.NetworkConfig,
		},
		client: &fasthttp.Client{
			ReadTimeout:     time.Duration(cfg.NetworkConfig.DefaultRequestTimeoutInSeconds) * time.Second,
			WriteTimeout:    time.Duration(cfg.NetworkConfig.DefaultRequestTimeoutInSeconds) * time.Second,
			MaxConnsPerHost: cfg.NetworkConfig.MaxConnsPerHost,
		},
	}
}

func (p *VertexProvider) CanHandle(path string) bool {
	return strings.HasPrefix(path, "/v1/messages")
}

type vertexEndpointConfig struct {
	ProjectID string `json:"projectId"`
	Region    string `json:"region"`
}

func parseVertexEndpoint(customEndpoint string) (vertexEndpointConfig, error) {
	var cfg vertexEndpointConfig
	if err := json.Unmarshal([]byte(customEndpoint), &cfg); err != nil || cfg.ProjectID == "" || cfg.Region == "" {
		return vertexEndpointConfig{}, &schemas.InvalidConfigError{Field: "custom_endpoint", Value: customEndpoint}
	}
	return cfg, nil
}

// RefreshToken resolves a Google ADC access token (1-hour lifetime).
func (p *VertexProvider) RefreshToken(ctx context.Context, account *schemas.Account, _ string) (*schemas.TokenRefreshResult, error) {
	if _, err := parseVertexEndpoint(account.CustomEndpoint); err != nil {
		return nil, err
	}

	creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, &schemas.TokenRefreshError{Account: account.ID, Message: "failed to resolve google adc: " + err.Error()}
	}
	tok, err := creds.TokenSource.Token()
	if err != nil {
		return nil, &schemas.TokenRefreshError{Account: account.ID, Message: "failed to mint google access token: " + err.Error()}
	}

	return &schemas.TokenRefreshResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: schemas.PreserveRefreshToken(),
		ExpiresAt:    tok.Expiry,
	}, nil
}

var vertexModelDateRe = regexp.MustCompile(`^(claude-[a-z0-9-]+)-(\d{8})$`)

// toVertexModelName converts "claude-family-YYYYMMDD" into the
// "claude-family@YYYYMMDD" form Vertex's publisher-model path expects.
func toVertexModelName(anthropicModel string) string {
	if m := vertexModelDateRe.FindStringSubmatch(anthropicModel); m != nil {
		return m[1] + "@" + m[2]
	}
	return anthropicModel
}

func fromVertexModelName(vertexModel string) string {
	return strings.Replace(vertexModel, "@", "-", 1)
}

// BuildURL implements region-scoped (or global) publisher-model path.
// The operation suffix depends on whether this is a streaming call; callers
// pass that via query's "stream" key so BuildURL stays side-effect free. The
// client's requested model name is read back from account.ResolvedModelID,
// set by TransformRequestBody for this same request.
func (p *VertexProvider) BuildURL(path string, query url.Values, account *schemas.Account) string {
	cfg, err := parseVertexEndpoint(accountCustomEndpoint(account))
	if err != nil {
		return ""
	}

	var peekModel string
	if account != nil {
		peekModel = account.ResolvedModelID
	}
	if peekModel == "" && query != nil {
		peekModel = query.Get("__model")
	}
	vertexModel := toVertexModelName(peekModel)

	host := cfg.Region + "-aiplatform.googleapis.com"
	if cfg.Region == "global" {
		host = "aiplatform.googleapis.com"
	}

	op := "rawPredict"
	if strings.Contains(path, "stream") || query.Get("stream") == "true" {
		op = "streamRawPredict"
	}

	return fmt.Sprintf("https://%s/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:%s",
		host, cfg.ProjectID, cfg.Region, vertexModel, op)
}

// PrepareHeaders sets bearer token auth, strips anthropic-beta and
// anthropic-version (Vertex supplies its own via the body field), host,
// compression headers.
func (p *VertexProvider) PrepareHeaders(inbound http.Header, accessToken, _ string) http.Header {
	out := make(http.Header, len(inbound))
	for k, v := range inbound {
		out[k] = v
	}
	out.Del("anthropic-beta")
	out.Del("anthropic-version")
	out.Del("Host")
	out.Del("Accept-Encoding")
	out.Del("Content-Encoding")
	out.Del("Authorization")
	if accessToken != "" {
		out.Set("Authorization", "Bearer "+accessToken)
	}
	return out
}

// TransformRequestBody drops "model" (it lives in the URL),
// inject anthropic_version. The client's requested model name is stashed on
// the account so BuildURL can recover it without a query-string side channel,
// and so ProcessResponse can restore it verbatim in the response.
func (p *VertexProvider) TransformRequestBody(body []byte, account *schemas.Account) ([]byte, error) {
	var peek struct {
		Model string `json:"model"`
	}
	_ = sonic.Unmarshal(body, &peek)
	if account != nil {
		account.ResolvedModelID = peek.Model
	}

	out, err := sjson.DeleteBytes(body, "model")
	if err != nil {
		return body, err
	}
	return sjson.SetBytes(out, "anthropic_version", "vertex-2023-10-16")
}

// RestoreClientModel patches the original client-facing model name back into
// a Vertex response body.
func RestoreClientModel(body []byte, clientModel string) ([]byte, error) {
	return sjson.SetBytes(body, "model", clientModel)
}

func (p *VertexProvider) ParseRateLimit(resp *http.Response, _ []byte) *schemas.RateLimitInfo {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &schemas.RateLimitInfo{IsRateLimited: true, StatusHeader: "429"}
	}
	return &schemas.RateLimitInfo{IsRateLimited: false}
}

// ProcessResponse restores the original Anthropic-format client model name in
// the response body, preferring the value TransformRequestBody stashed on
// the account for this request; it falls back to deriving one from Vertex's
// own "model" field (claude-family@date) only if that's unavailable.
func (p *VertexProvider) ProcessResponse(resp *http.Response, body []byte, account *schemas.Account) ([]byte, error) {
	if p.IsStreamingResponse(resp) {
		return body, nil
	}
	if account != nil && account.ResolvedModelID != "" {
		return RestoreClientModel(body, account.ResolvedModelID)
	}
	var peek struct {
		Model string `json:"model"`
	}
	if err := sonic.Unmarshal(body, &peek); err != nil || peek.Model == "" {
		return body, nil
	}
	return RestoreClientModel(body, fromVertexModelName(peek.Model))
}

// Do sends the already-transformed request to the resolved Vertex URL.
func (p *VertexProvider) Do(ctx context.Context, account *schemas.Account, reqURL string, body []byte, accessToken string) (*http.Response, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(reqURL)
	req.Header.SetMethod(http.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
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
