package schemas

import "fmt"

// ErrorKind classifies an UpstreamError so callers can branch on how to
// react: retry, re-auth, or surface-to-client.
type ErrorKind string

const (
	UpstreamRateLimited  ErrorKind = "rate_limited"
	UpstreamServiceError ErrorKind = "service_error"
	ValidationError      ErrorKind = "validation_error"
	UpstreamUnknown      ErrorKind = "unknown"
)

// TokenRefreshError is returned when an OAuth refresh attempt fails transiently
// (network error, 5xx from the token endpoint).
type TokenRefreshError struct {
	Account    string
	Message    string
	StatusCode int
	Cause      error
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("token refresh failed for account %s: %s (status=%d)", e.Account, e.Message, e.StatusCode)
}

func (e *TokenRefreshError) Unwrap() error { return e.Cause }

// ReauthRequiredError wraps a TokenRefreshError that the caller cannot recover
// from automatically — the stored refresh token itself was rejected.
type ReauthRequiredError struct {
	Account string
	Reason  string
	Cause   *TokenRefreshError
}

func (e *ReauthRequiredError) Error() string {
	return fmt.Sprintf("account %s requires re-authentication: %s", e.Account, e.Reason)
}

func (e *ReauthRequiredError) Unwrap() error { return e.Cause }

// InvalidConfigError is returned only where configuration is fatal to proceed
// (e.g. Bedrock/Vertex credential resolution); buildUrl never returns this —
// it falls back to a default and logs.
type InvalidConfigError struct {
	Field    string
	Value    string
	Fallback string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config field %q (value %q), no fallback available", e.Field, e.Value)
}

// UpstreamError is the normalized shape processResponse produces for any non-2xx
// upstream response.
type UpstreamError struct {
	StatusCode int
	Kind       ErrorKind
	Message    string
	Raw        []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error (status=%d, kind=%s): %s", e.StatusCode, e.Kind, e.Message)
}

// ClassifyStatusCode maps an HTTP status code to an ErrorKind when the response
// body carries no more specific signal.
func ClassifyStatusCode(status int) ErrorKind {
	switch {
	case status == 429:
		return UpstreamRateLimited
	case status >= 500:
		return UpstreamServiceError
	case status == 400 || status == 422:
		return ValidationError
	default:
		return UpstreamUnknown
	}
}
