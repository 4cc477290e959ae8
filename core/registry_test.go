package core

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

type fakeProvider struct {
	name schemas.ModelProvider
}

func (f *fakeProvider) Name() schemas.ModelProvider  { return f.name }
func (f *fakeProvider) CanHandle(path string) bool   { return path == "/v1/messages" }
func (f *fakeProvider) RefreshToken(ctx context.Context, account *schemas.Account, clientID string) (*schemas.TokenRefreshResult, error) {
	return nil, nil
}
func (f *fakeProvider) BuildURL(path string, query url.Values, account *schemas.Account) string {
	return "https://example.invalid" + path
}
func (f *fakeProvider) PrepareHeaders(inbound http.Header, accessToken, apiKey string) http.Header {
	return inbound
}
func (f *fakeProvider) ParseRateLimit(resp *http.Response, body []byte) *schemas.RateLimitInfo {
	return nil
}
func (f *fakeProvider) ProcessResponse(resp *http.Response, body []byte, account *schemas.Account) ([]byte, error) {
	return body, nil
}

type fakeOAuthProvider struct{}

func (fakeOAuthProvider) AuthorizeURL(state, challenge string) string { return "https://auth.invalid" }
func (fakeOAuthProvider) ExchangeCode(ctx context.Context, code, verifier string) (*schemas.TokenRefreshResult, error) {
	return nil, nil
}
func (fakeOAuthProvider) RefreshToken(ctx context.Context, refreshToken string) (*schemas.TokenRefreshResult, error) {
	return nil, nil
}

// fakeOAuthCapableProvider embeds fakeProvider and additionally implements
// OAuthCapable, so Register should pick up its OAuth half automatically.
type fakeOAuthCapableProvider struct {
	fakeProvider
}

func (f *fakeOAuthCapableProvider) SupportsOAuth() bool                { return true }
func (f *fakeOAuthCapableProvider) GetOAuthProvider() schemas.OAuthProvider { return fakeOAuthProvider{} }

func TestRegisterPlainProviderHasNoOAuth(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "plain"})

	p, err := r.Get("plain")
	require.NoError(t, err)
	assert.Equal(t, schemas.ModelProvider("plain"), p.Name())

	_, ok := r.GetOAuth("plain")
	assert.False(t, ok)
}

func TestRegisterOAuthCapableProviderAutoRegistersOAuth(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeOAuthCapableProvider{fakeProvider{name: "anthropic"}})

	assert.True(t, r.IsRegistered("anthropic"))
	oauth, ok := r.GetOAuth("anthropic")
	require.True(t, ok)
	assert.Equal(t, "https://auth.invalid", oauth.AuthorizeURL("state", "challenge"))
}

func TestGetUnregisteredProviderReturnsError(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	assert.Error(t, err)
}

func TestUnregisterRemovesBothProviderAndOAuth(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeOAuthCapableProvider{fakeProvider{name: "anthropic"}})
	r.Unregister("anthropic")

	assert.False(t, r.IsRegistered("anthropic"))
	_, ok := r.GetOAuth("anthropic")
	assert.False(t, ok)
}

func TestClearRemovesEveryRegistration(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "a"})
	r.Register(&fakeProvider{name: "b"})
	r.Clear()

	assert.Empty(t, r.Names())
}

func TestNamesListsEveryRegisteredProvider(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "a"})
	r.Register(&fakeProvider{name: "b"})

	names := r.Names()
	assert.ElementsMatch(t, []schemas.ModelProvider{"a", "b"}, names)
}

func TestRegisterOverwritesExistingRegistrationUnderSameName(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "dup"})
	second := &fakeOAuthCapableProvider{fakeProvider{name: "dup"}}
	r.Register(second)

	p, err := r.Get("dup")
	require.NoError(t, err)
	assert.Same(t, second, p)

	_, ok := r.GetOAuth("dup")
	assert.True(t, ok)
}
