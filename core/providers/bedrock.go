package providers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/relaymesh/anthropic-gateway/core/providers/bedrock"
	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// BedrockProvider handles credential resolution via the
// environment -> named-profile -> instance-metadata chain (delegated to
// aws-sdk-go-v2's default provider chain), per-request SigV4 signing, model
// resolution through the model/profile caches, and the Converse request/
// response transform.
type BedrockProvider struct {
	Base
	client   *http.Client
	models   *bedrock.ModelCache
	profiles *bedrock.ProfileCache
}

func NewBedrockProvider(cfg *schemas.ProviderConfig, logger schemas.Logger, models *bedrock.ModelCache, profiles *bedrock.ProfileCache) *BedrockProvider {
	cfg.CheckAndSetDefaults()
	return &BedrockProvider{
		Base: Base{
			ProviderName: schemas.Bedrock,
			Logger:       logger,
			Network:      cfg.NetworkConfig,
		},
		client:   &http.Client{Timeout: time.Duration(cfg.NetworkConfig.DefaultRequestTimeoutInSeconds) * time.Second},
		models:   models,
		profiles: profiles,
	}
}

// CanHandle reports true iff path starts with /v1/messages.
func (p *BedrockProvider) CanHandle(path string) bool {
	return strings.HasPrefix(path, "/v1/messages")
}

// bedrockConfig is the parsed form of custom_endpoint = "bedrock:<profile>:<region>".
type bedrockConfig struct {
	Profile string
	Region  string
}

// parseBedrockEndpoint returns an error on malformed custom_endpoint: unlike
// buildUrl elsewhere, Bedrock's config errors are explicit and user-visible
// (surfaced from RefreshToken / the request transform), not a silent
// provider-default fallback.
func parseBedrockEndpoint(customEndpoint string) (bedrockConfig, error) {
	parts := strings.SplitN(customEndpoint, ":", 3)
	if len(parts) != 3 || parts[0] != "bedrock" || parts[2] == "" {
		return bedrockConfig{}, &schemas.InvalidConfigError{
			Field:    "custom_endpoint",
			Value:    customEndpoint,
			Fallback: "",
		}
	}
	return bedrockConfig{Profile: parts[1], Region: parts[2]}, nil
}

// RefreshToken validates the credential chain resolves (environment, named
// profile, or instance-metadata role) and returns a long-lived placeholder;
// Bedrock requests are signed fresh per call, so nothing is persisted.
func (p *BedrockProvider) RefreshToken(ctx context.Context, account *schemas.Account, _ string) (*schemas.TokenRefreshResult, error) {
	cfg, err := parseBedrockEndpoint(account.CustomEndpoint)
	if err != nil {
		return nil, err
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" && cfg.Profile != "default" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &schemas.TokenRefreshError{Account: account.ID, Message: "failed to resolve aws credential chain: " + err.Error()}
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return nil, &schemas.TokenRefreshError{Account: account.ID, Message: "failed to retrieve aws credentials: " + err.Error()}
	}

	return &schemas.TokenRefreshResult{
		AccessToken:  "bedrock:" + cfg.Profile + ":" + cfg.Region,
		RefreshToken: schemas.PreserveRefreshToken(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (p *BedrockProvider) BuildURL(path string, _ url.Values, account *schemas.Account) string {
	cfg, err := parseBedrockEndpoint(accountCustomEndpoint(account))
	if err != nil {
		return ""
	}
	return "https://bedrock-runtime." + cfg.Region + ".amazonaws.com"
}

func accountCustomEndpoint(a *schemas.Account) string {
	if a == nil {
		return ""
	}
	return a.CustomEndpoint
}

// PrepareHeaders is a no-op beyond stripping hop-by-hop headers: SigV4
// signing (done in Do, where the body is final) supplies Authorization.
func (p *BedrockProvider) PrepareHeaders(inbound http.Header, _ string, _ string) http.Header {
	out := make(http.Header, len(inbound))
	for k, v := range inbound {
		out[k] = v
	}
	out.Del("Accept-Encoding")
	out.Del("Content-Encoding")
	out.Del("Host")
	out.Del("Authorization")
	out.Del("X-Api-Key")
	out.Del("x-api-key")
	return out
}

func (p *BedrockProvider) ParseRateLimit(resp *http.Response, _ []byte) *schemas.RateLimitInfo {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &schemas.RateLimitInfo{IsRateLimited: true, StatusHeader: "429"}
	}
	return &schemas.RateLimitInfo{IsRateLimited: false}
}

// TransformRequestBody resolves the model ID (account override -> fuzzy
// match -> passthrough), applies the cross-region-mode prefix, then
// transforms the request body to Converse input.
func (p *BedrockProvider) TransformRequestBody(body []byte, account *schemas.Account) ([]byte, error) {
	resolved, modelID, err := p.resolveModelAndBody(context.Background(), body, account)
	if err != nil {
		return body, err
	}
	if account != nil {
		account.ResolvedModelID = modelID
	}
	return resolved, nil
}

func (p *BedrockProvider) resolveModelAndBody(ctx context.Context, body []byte, account *schemas.Account) ([]byte, string, error) {
	cfg, cfgErr := parseBedrockEndpoint(accountCustomEndpoint(account))
	region := cfg.Region
	if cfgErr != nil {
		region = "us-east-1"
	}

	var peek struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	_ = sonic.Unmarshal(body, &peek)

	var accountMappings map[string]string
	mode := "geographic"
	if account != nil {
		accountMappings = account.ModelMappings
		if account.CrossRegionMode != "" {
			mode = account.CrossRegionMode
		}
	}

	resolvedModel := p.models.ResolveModel(ctx, region, peek.Model, accountMappings)
	finalModelID := bedrock.ResolveCrossRegionModelID(ctx, p.profiles, region, mode, resolvedModel)

	converse, warnings, err := bedrock.TransformToConverse(body)
	if err != nil {
		return nil, "", err
	}
	for _, w := range warnings {
		if p.Logger != nil {
			p.Logger.Warn("bedrock request transform", schemas.F("warning", w))
		}
	}

	out, err := sonic.Marshal(converse)
	if err != nil {
		return nil, "", err
	}
	return out, finalModelID, nil
}

// ProcessResponse implements non-streaming Converse -> Anthropic
// response transform. Streaming responses are forwarded unchanged. The model
// reported back comes from account.ResolvedModelID, the Bedrock model ID
// (with any cross-region prefix) chosen during TransformRequestBody; when
// that is empty, the x-bedrock-model-id response header is used.
func (p *BedrockProvider) ProcessResponse(resp *http.Response, body []byte, account *schemas.Account) ([]byte, error) {
	if p.IsStreamingResponse(resp) {
		return body, nil
	}
	if resp.StatusCode >= 400 {
		return body, translateBedrockError(resp.StatusCode, body)
	}
	model := resp.Header.Get("x-bedrock-model-id")
	if account != nil && account.ResolvedModelID != "" {
		model = account.ResolvedModelID
	}
	return bedrock.TransformFromConverse(body, "msg_"+uuid.NewString(), model)
}

func translateBedrockError(status int, body []byte) error {
	var parsed struct {
		Message string `json:"message"`
		Type    string `json:"__type"`
	}
	_ = json.Unmarshal(body, &parsed)
	code := parsed.Type
	if code == "" {
		code = fmt.Sprintf("http-%d", status)
	}
	kind := schemas.ClassifyStatusCode(bedrock.StatusForErrorCode(code))
	return &schemas.UpstreamError{StatusCode: bedrock.StatusForErrorCode(code), Kind: kind, Message: parsed.Message, Raw: body}
}

// Do signs and sends a Converse (or ConverseStream) request. If streaming was
// requested but Bedrock rejects it with a validation error mentioning
// "streaming", it retries once against the non-streaming Converse endpoint.
func (p *BedrockProvider) Do(ctx context.Context, account *schemas.Account, converseBody []byte, modelID string, streaming bool) (*http.Response, []byte, error) {
	if modelID == "" && account != nil {
		modelID = account.ResolvedModelID
	}
	resp, body, err := p.invokeConverse(ctx, account, converseBody, modelID, streaming)
	if err != nil {
		return nil, nil, err
	}
	if streaming && resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(string(body)), "streaming") {
		return p.invokeConverse(ctx, account, converseBody, modelID, false)
	}
	return resp, body, nil
}

func (p *BedrockProvider) invokeConverse(ctx context.Context, account *schemas.Account, body []byte, modelID string, streaming bool) (*http.Response, []byte, error) {
	cfg, err := parseBedrockEndpoint(accountCustomEndpoint(account))
	if err != nil {
		return nil, nil, err
	}

	op := "converse"
	if streaming {
		op = "converse-stream"
	}
	reqURL := fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/model/%s/%s", cfg.Region, url.PathEscape(modelID), op)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	if err := signBedrockRequest(ctx, httpReq, body, cfg); err != nil {
		return nil, nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, respBody, nil
}

// signBedrockRequest implements AWS SigV4 signing, grounded on the same
// config.LoadDefaultConfig + v4.Signer pairing used elsewhere in the stack:
// explicit credentials when the account names a profile, otherwise the
// default provider chain (environment, then shared profile, then IMDS role).
func signBedrockRequest(ctx context.Context, req *http.Request, body []byte, cfg bedrockConfig) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	hash := sha256.Sum256(body)
	bodyHash := hex.EncodeToString(hash[:])

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" && cfg.Profile != "default" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("bedrock: failed to load aws config: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("bedrock: failed to retrieve aws credentials: %w", err)
	}

	signer := v4.NewSigner()
	return signer.SignHTTP(ctx, creds, req, bodyHash, "bedrock", cfg.Region, time.Now())
}
