// Package oauth implements the PKCE utility and the Anthropic OAuth
// provider, per RFC 7636.
package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// GeneratePKCE produces a fresh verifier/challenge pair: 32 cryptographically
// random bytes base64url-encoded as the verifier, and its S256 (SHA-256,
// base64url, no padding) hash as the challenge.
func GeneratePKCE() (schemas.PKCEChallenge, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return schemas.PKCEChallenge{}, err
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	return schemas.PKCEChallenge{Verifier: verifier, Challenge: challenge}, nil
}
