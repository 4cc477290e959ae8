package providers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"

	"github.com/relaymesh/anthropic-gateway/core/providers/utils"
	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// openaiCompatKind distinguishes the three derivatives sharing this adapter:
// generic OpenAI-compatible, Kilo, and OpenRouter.
type openaiCompatKind int

const (
	kindOpenAICompatible openaiCompatKind = iota
	kindKilo
	kindOpenRouter
)

// OpenAICompatibleProvider implements bidirectional Anthropic<->OpenAI
// translation. Kilo and OpenRouter are the same adapter with a different fixed
// endpoint and path-rewrite rule.
type OpenAICompatibleProvider struct {
	Base
	client        *fasthttp.Client
	kind          openaiCompatKind
	fixedEndpoint string
	costEstimate  schemas.CostEstimator
}

func NewOpenAICompatibleProvider(cfg *schemas.ProviderConfig, logger schemas.Logger) *OpenAICompatibleProvider {
	return newOpenAICompatProvider(schemas.OpenAICompatible, kindOpenAICompatible, "", cfg, logger)
}

func NewKiloProvider(cfg *schemas.ProviderConfig, logger schemas.Logger) *OpenAICompatibleProvider {
	return newOpenAICompatProvider(schemas.Kilo, kindKilo, "https://api.kilo.ai/api/gateway", cfg, logger)
}

func NewOpenRouterProvider(cfg *schemas.ProviderConfig, logger schemas.Logger) *OpenAICompatibleProvider {
	return newOpenAICompatProvider(schemas.OpenRouter, kindOpenRouter, "https://openrouter.ai/api/v1", cfg, logger)
}

func newOpenAICompatProvider(name schemas.ModelProvider, kind openaiCompatKind, fixedEndpoint string, cfg *schemas.ProviderConfig, logger schemas.Logger) *OpenAICompatibleProvider {
	cfg.CheckAndSetDefaults()
	return &OpenAICompatibleProvider{
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
		kind:          kind,
		fixedEndpoint: fixedEndpoint,
		costEstimate:  cfg.CostEstimator,
	}
}

// CanHandle rejects /v1/messages/count_tokens and the /api/event_logging
// telemetry paths; every other path is accepted and mapped in BuildURL.
func (p *OpenAICompatibleProvider) CanHandle(path string) bool {
	return path != "/v1/messages/count_tokens" && !strings.HasPrefix(path, "/api/event_logging")
}

func (p *OpenAICompatibleProvider) RefreshToken(_ context.Context, account *schemas.Account, _ string) (*schemas.TokenRefreshResult, error) {
	return noopRefresh(account)
}

// BuildURL implements the per-kind path maps.
func (p *OpenAICompatibleProvider) BuildURL(path string, query url.Values, account *schemas.Account) string {
	endpoint := p.fixedEndpoint
	if account != nil && account.CustomEndpoint != "" {
		endpoint = account.CustomEndpoint
	}
	base := ResolveBaseURL(endpoint, endpoint, p.Logger)

	mapped := p.mapPath(base, path)

	q := url.Values{}
	for k, vs := range query {
		if k == "beta" {
			continue
		}
		q[k] = vs
	}
	return JoinURL(base, mapped, q)
}

func (p *OpenAICompatibleProvider) mapPath(base, path string) string {
	switch p.kind {
	case kindKilo:
		if path == "/v1/messages" {
			return "/chat/completions"
		}
		return strings.TrimPrefix(path, "/v1")
	case kindOpenRouter:
		if path == "/v1/messages" {
			return "/chat/completions"
		}
		return path
	default:
		if path == "/v1/messages" {
			if strings.HasSuffix(strings.TrimRight(base, "/"), "/v1") {
				return "/chat/completions"
			}
			return "/v1/chat/completions"
		}
		return path
	}
}

// PrepareHeaders sets bearer auth, drops client authorization/
// anthropic-version/anthropic-dangerous-direct-browser-access/host.
func (p *OpenAICompatibleProvider) PrepareHeaders(inbound http.Header, accessToken, apiKey string) http.Header {
	out := utils.SanitizeHeaders(inbound, true)
	out.Del("anthropic-version")
	out.Del("anthropic-dangerous-direct-browser-access")
	out.Del("Host")
	out.Del("Accept-Encoding")
	out.Del("Content-Encoding")

	credential := apiKey
	if credential == "" {
		credential = accessToken
	}
	if credential != "" {
		out.Set("Authorization", "Bearer "+credential)
	}
	return utils.ExtraHeaders(out, p.Network.ExtraHeaders, false)
}

func (p *OpenAICompatibleProvider) ParseRateLimit(resp *http.Response, _ []byte) *schemas.RateLimitInfo {
	return utils.DefaultParseRateLimit(resp)
}

// anthropicContentBlock/anthropicMessage mirror the slice of the Anthropic
// Messages wire shape this adapter actually touches.
type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicMessageIn struct {
	Role    string          `json:"role"`
	Content sonicRawContent `json:"content"`
}

// sonicRawContent accepts either a plain string or an array of content
// blocks, matching the Anthropic Messages request schema.
type sonicRawContent struct {
	text   string
	blocks []anthropicContentBlock
}

func (c *sonicRawContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '"' {
		return sonic.Unmarshal(data, &c.text)
	}
	return sonic.Unmarshal(data, &c.blocks)
}

func (c sonicRawContent) flatten() string {
	if c.text != "" {
		return c.text
	}
	var sb strings.Builder
	for _, b := range c.blocks {
		if b.Type == "text" || b.Type == "" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

type anthropicRequestIn struct {
	Model         string               `json:"model"`
	System        string               `json:"system"`
	Messages      []anthropicMessageIn `json:"messages"`
	MaxTokens     int                  `json:"max_tokens"`
	Temperature   *float64             `json:"temperature"`
	TopP          *float64             `json:"top_p"`
	StopSequences []string             `json:"stop_sequences"`
	Stream        bool                 `json:"stream"`
}

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openaiChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

// TransformRequestBody implements Anthropic->OpenAI request transform.
func (p *OpenAICompatibleProvider) TransformRequestBody(body []byte, account *schemas.Account) ([]byte, error) {
	var in anthropicRequestIn
	if err := sonic.Unmarshal(body, &in); err != nil {
		return body, err
	}

	out := openaiChatRequest{
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		TopP:        in.TopP,
		Stream:      in.Stream,
	}
	if len(in.StopSequences) > 0 {
		out.Stop = in.StopSequences
	}

	if in.System != "" {
		out.Messages = append(out.Messages, openaiChatMessage{Role: "system", Content: in.System})
	}
	for _, m := range in.Messages {
		out.Messages = append(out.Messages, openaiChatMessage{Role: m.Role, Content: m.Content.flatten()})
	}

	var accountMappings map[string]string
	if account != nil {
		accountMappings = account.ModelMappings
	}
	switch p.kind {
	case kindOpenRouter:
		out.Model = resolveOpenRouterModel(in.Model, accountMappings)
	default:
		out.Model = utils.MapOpenAIModel(in.Model, accountMappings)
	}

	return sonic.Marshal(out)
}

// resolveOpenRouterModel implements OpenRouter fallback: an account
// mapping wins outright; otherwise the client's model name is lower-cased and
// re-exposed under the "anthropic/" vendor prefix OpenRouter uses for
// Anthropic models.
func resolveOpenRouterModel(clientModel string, accountMappings map[string]string) string {
	if v, ok := accountMappings[clientModel]; ok && v != "" {
		return v
	}
	lower := strings.ToLower(clientModel)
	if strings.Contains(lower, "/") {
		return lower
	}
	return "anthropic/" + lower
}

var openaiFinishReasonMap = map[string]string{
	"stop":           "end_turn",
	"length":         "max_tokens",
	"function_call":  "tool_use",
	"tool_calls":     "tool_use",
	"content_filter": "stop_sequence",
}

func mapFinishReason(reason string) string {
	if v, ok := openaiFinishReasonMap[reason]; ok {
		return v
	}
	return "end_turn"
}

// ProcessResponse implements the non-streaming OpenAI->Anthropic response
// transform. Streaming responses are left untouched here; callers
// detect IsStreamingResponse and route to the SSE rewriter instead.
func (p *OpenAICompatibleProvider) ProcessResponse(resp *http.Response, body []byte, _ *schemas.Account) ([]byte, error) {
	if p.IsStreamingResponse(resp) {
		return body, nil
	}

	choiceContent := gjson.GetBytes(body, "choices.0.message.content").String()
	finishReason := gjson.GetBytes(body, "choices.0.finish_reason").String()
	model := gjson.GetBytes(body, "model").String()
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		id = "msg_" + uuid.NewString()
	}

	out := map[string]any{
		"type":  "message",
		"id":    id,
		"role":  "assistant",
		"model": model,
		"content": []map[string]any{
			{"type": "text", "text": choiceContent},
		},
		"stop_reason": mapFinishReason(finishReason),
	}
	if gjson.GetBytes(body, "usage").Exists() {
		out["usage"] = map[string]any{
			"input_tokens":  gjson.GetBytes(body, "usage.prompt_tokens").Int(),
			"output_tokens": gjson.GetBytes(body, "usage.completion_tokens").Int(),
		}
	}
	return sonic.Marshal(out)
}

func (p *OpenAICompatibleProvider) ExtractUsageInfo(body []byte) (schemas.TokenCounts, bool) {
	return utils.ExtractOpenAIJSONUsage(body)
}

// CostEstimate uses the injected CostEstimator when one is set; otherwise it
// applies the built-in per-1k-token table keyed by model prefix, falling back
// to the {0.001,0.002} default for models no prefix matches.
func (p *OpenAICompatibleProvider) CostEstimate(model string, counts schemas.TokenCounts) float64 {
	if p.costEstimate != nil {
		return p.costEstimate(model, counts)
	}
	return defaultOpenAICost(model, counts)
}

var openaiCostTable = map[string]struct{ InputPer1k, OutputPer1k float64 }{
	"openai/gpt-5":      {InputPer1k: 0.003, OutputPer1k: 0.006},
	"openai/gpt-5-mini": {InputPer1k: 0.0005, OutputPer1k: 0.0015},
}

func defaultOpenAICost(model string, counts schemas.TokenCounts) float64 {
	rate := struct{ InputPer1k, OutputPer1k float64 }{InputPer1k: 0.001, OutputPer1k: 0.002}
	matched := ""
	for prefix, r := range openaiCostTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(matched) {
			rate, matched = r, prefix
		}
	}
	return float64(counts.InputTokens)/1000*rate.InputPer1k + float64(counts.OutputTokens)/1000*rate.OutputPer1k
}

// StreamTransform wraps an upstream OpenAI SSE body: it tees the raw upstream
// bytes (for out-of-band usage accounting) and runs the incremental rewrite
// into the Anthropic event envelope on a background goroutine, returning a
// pipe the caller streams straight to the client.
func (p *OpenAICompatibleProvider) StreamTransform(upstream io.Reader) (client io.Reader, analyticsRaw io.Reader) {
	teeClient, analytics := utils.TeeSSE(upstream)

	pr, pw := io.Pipe()
	go func() {
		err := utils.RewriteOpenAIStreamToAnthropic(teeClient, pw)
		if closer, ok := analytics.(io.Closer); ok {
			_ = closer.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr, analytics
}

// Do sends the already-transformed OpenAI-shaped body.
func (p *OpenAICompatibleProvider) Do(ctx context.Context, account *schemas.Account, path string, query url.Values, body []byte, accessToken, apiKey string) (*http.Response, []byte, error) {
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
		req.Header.Set("Authorization", "Bearer "+credential)
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
