package bedrock

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusForErrorCode(t *testing.T) {
	cases := map[string]int{
		"InvalidClientTokenId":        http.StatusForbidden,
		"ExpiredTokenException":       http.StatusForbidden,
		"ThrottlingException":         http.StatusTooManyRequests,
		"TooManyRequestsException":    http.StatusTooManyRequests,
		"ServiceUnavailableException": http.StatusServiceUnavailable,
		"InternalServerException":     http.StatusServiceUnavailable,
		"ResourceNotFoundException":   http.StatusNotFound,
		"ValidationException":         http.StatusBadRequest,
		"SomeUnmappedFailure":         http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, StatusForErrorCode(code), code)
	}
}

func TestStatusForErrorCodeCaseInsensitive(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, StatusForErrorCode("throttling"))
	assert.Equal(t, http.StatusTooManyRequests, StatusForErrorCode("THROTTLINGEXCEPTION"))
}

func TestSuggestModelReturnsBestMatchAboveThreshold(t *testing.T) {
	catalog := []string{
		"anthropic.claude-opus-4-6-v1:0",
		"anthropic.claude-haiku-4-6-v1:0",
		"amazon.titan-text-express-v1",
	}
	got, ok := SuggestModel("anthropic.claude-opus-4-6", catalog)
	assert.True(t, ok)
	assert.Equal(t, "anthropic.claude-opus-4-6-v1:0", got)
}

func TestSuggestModelReturnsFalseWhenNothingCloseEnough(t *testing.T) {
	catalog := []string{"amazon.titan-text-express-v1"}
	_, ok := SuggestModel("anthropic.claude-opus-4-6", catalog)
	assert.False(t, ok)
}
