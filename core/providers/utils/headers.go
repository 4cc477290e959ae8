package utils

import "net/http"

// hopByHopHeaders are stripped from any inbound header set before it is forwarded
// upstream — they describe the client's connection to us, not ours to the provider.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
	"Content-Length":      true,
}

// clientAuthHeaders are the headers a client might set to authenticate itself to
// us; they are only stripped when the core is about to supply its own resolved
// credential. An inbound Authorization is preserved untouched when the core has
// no credential of its own to substitute.
var clientAuthHeaders = []string{"Authorization", "X-Api-Key", "x-api-key"}

// SanitizeHeaders copies inbound into a fresh header set with hop-by-hop headers
// removed, and — only when haveCredential is true — strips any client-supplied
// auth headers so the adapter's own credential is the single source of truth.
func SanitizeHeaders(inbound http.Header, haveCredential bool) http.Header {
	out := make(http.Header, len(inbound))
	for k, v := range inbound {
		if hopByHopHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		vals := make([]string, len(v))
		copy(vals, v)
		out[http.CanonicalHeaderKey(k)] = vals
	}
	if haveCredential {
		for _, h := range clientAuthHeaders {
			out.Del(h)
		}
	}
	return out
}

// ExtraHeaders applies operator-configured static headers on top of an existing
// header set, never overwriting a header the adapter has already set explicitly
// unless override is true.
func ExtraHeaders(out http.Header, extra map[string]string, override bool) http.Header {
	if out == nil {
		out = make(http.Header)
	}
	for k, v := range extra {
		if !override && out.Get(k) != "" {
			continue
		}
		out.Set(k, v)
	}
	return out
}
