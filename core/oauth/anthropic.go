package oauth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

const (
	anthropicOAuthScopes      = "org:create_api_key user:profile user:inference"
	anthropicOAuthRedirectURI = "https://console.anthropic.com/oauth/code/callback"
	anthropicOAuthTokenURL    = "https://console.anthropic.com/v1/oauth/token"
)

// AuthMode selects which authorize base wires the flow through: the
// developer console (API-key-adjacent) or the consumer claude.ai ("max") login.
type AuthMode string

const (
	ModeConsole AuthMode = "console"
	ModeMax     AuthMode = "max"
)

// AnthropicOAuthProvider implements PKCE-based authorize-URL construction
// and authorization-code-for-token exchange, against Anthropic's OAuth
// endpoints.
type AnthropicOAuthProvider struct {
	ClientID string
	Mode     AuthMode
	client   *http.Client

	// tokenURL overrides anthropicOAuthTokenURL; left empty in production,
	// set by tests to point at a local server.
	tokenURL string
}

func NewAnthropicOAuthProvider() *AnthropicOAuthProvider {
	return &AnthropicOAuthProvider{Mode: ModeConsole, client: http.DefaultClient}
}

// AuthorizeURL builds the URL the user is sent to: state equals the
// PKCE verifier, scopes are fixed, and "max" mode wraps the authorize URL in a
// claude.ai login redirect.
func (p *AnthropicOAuthProvider) AuthorizeURL(state string, challenge string) string {
	base := "https://console.anthropic.com"
	if p.Mode == ModeMax {
		base = "https://claude.ai"
	}

	q := url.Values{}
	q.Set("code", "true")
	q.Set("client_id", p.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", anthropicOAuthRedirectURI)
	q.Set("scope", anthropicOAuthScopes)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("state", state)

	authorizeURL := base + "/oauth/authorize?" + q.Encode()

	if p.Mode == ModeMax {
		wrap := url.Values{}
		wrap.Set("selectAccount", "true")
		wrap.Set("returnTo", "/oauth/authorize?"+q.Encode())
		return base + "/login?" + wrap.Encode()
	}

	return authorizeURL
}

// ExchangeCode implements code exchange: the submitted code is split on
// "#" into {code, state}; on non-2xx the error message prefers
// error_description, then error, then the HTTP status text.
func (p *AnthropicOAuthProvider) ExchangeCode(ctx context.Context, code, verifier string) (*schemas.TokenRefreshResult, error) {
	submittedCode, state := splitCodeState(code)

	payload := map[string]string{
		"code":          submittedCode,
		"state":         state,
		"grant_type":    "authorization_code",
		"client_id":     p.ClientID,
		"redirect_uri":  anthropicOAuthRedirectURI,
		"code_verifier": verifier,
	}
	body, _ := sonic.Marshal(payload)

	return p.postToken(ctx, body)
}

// RefreshToken exchanges a stored refresh token for a new access token.
func (p *AnthropicOAuthProvider) RefreshToken(ctx context.Context, refreshToken string) (*schemas.TokenRefreshResult, error) {
	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     p.ClientID,
	}
	body, _ := sonic.Marshal(payload)
	return p.postToken(ctx, body)
}

func (p *AnthropicOAuthProvider) postToken(ctx context.Context, body []byte) (*schemas.TokenRefreshResult, error) {
	tokenURL := anthropicOAuthTokenURL
	if p.tokenURL != "" {
		tokenURL = p.tokenURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = sonic.Unmarshal(respBody, &e)
		switch {
		case e.ErrorDescription != "":
			return nil, fmt.Errorf("anthropic oauth token exchange failed: %s", e.ErrorDescription)
		case e.Error != "":
			return nil, fmt.Errorf("anthropic oauth token exchange failed: %s", e.Error)
		default:
			return nil, fmt.Errorf("anthropic oauth token exchange failed: %s", http.StatusText(resp.StatusCode))
		}
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := sonic.Unmarshal(respBody, &tok); err != nil {
		return nil, fmt.Errorf("malformed anthropic oauth token response: %w", err)
	}

	result := &schemas.TokenRefreshResult{
		AccessToken: tok.AccessToken,
		ExpiresAt:   time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}
	if tok.RefreshToken != "" {
		result.RefreshToken = &tok.RefreshToken
	}
	return result, nil
}

// splitCodeState handles "abc#xyz" -> ("abc", "xyz"); "abc" (no
// "#") -> ("abc", "") with an empty (not absent) state, which ExchangeCode
// then sends as an empty JSON string.
func splitCodeState(code string) (string, string) {
	if idx := strings.IndexByte(code, '#'); idx >= 0 {
		return code[:idx], code[idx+1:]
	}
	return code, ""
}
