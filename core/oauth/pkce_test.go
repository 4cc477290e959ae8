package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePKCEChallengeMatchesVerifierHash(t *testing.T) {
	pair, err := GeneratePKCE()
	require.NoError(t, err)
	require.NotEmpty(t, pair.Verifier)
	require.NotEmpty(t, pair.Challenge)

	sum := sha256.Sum256([]byte(pair.Verifier))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	assert.Equal(t, want, pair.Challenge)
}

func TestGeneratePKCEProducesDistinctPairs(t *testing.T) {
	first, err := GeneratePKCE()
	require.NoError(t, err)
	second, err := GeneratePKCE()
	require.NoError(t, err)

	assert.NotEqual(t, first.Verifier, second.Verifier)
	assert.NotEqual(t, first.Challenge, second.Challenge)
}

func TestGeneratePKCEVerifierIsURLSafe(t *testing.T) {
	pair, err := GeneratePKCE()
	require.NoError(t, err)

	_, err = base64.RawURLEncoding.DecodeString(pair.Verifier)
	assert.NoError(t, err)
	_, err = base64.RawURLEncoding.DecodeString(pair.Challenge)
	assert.NoError(t, err)
}
