package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two content deltas ("Hel", "lo") should produce exactly one message_start,
// one ping, one content_block_start, two content_block_delta events (in
// order), one content_block_stop, one message_delta, one message_stop.
func TestRewriteOpenAIStreamToAnthropicEventSequence(t *testing.T) {
	src := strings.NewReader(strings.Join([]string{
		`data: {"id":"chatcmpl-1","model":"openai/gpt-5","choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"id":"chatcmpl-1","model":"openai/gpt-5","choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"id":"chatcmpl-1","model":"openai/gpt-5","choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
		"",
	}, "\n"))

	var dst bytes.Buffer
	err := RewriteOpenAIStreamToAnthropic(src, &dst)
	require.NoError(t, err)

	events := extractEventNames(dst.String())
	require.Equal(t, []string{
		"message_start",
		"ping",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, events)

	out := dst.String()
	assert.Equal(t, 1, countOccurrences(out, `"text":"Hel"`))
	assert.Equal(t, 1, countOccurrences(out, `"text":"lo"`))
	assert.Less(t, strings.Index(out, `"text":"Hel"`), strings.Index(out, `"text":"lo"`))
}

func TestRewriteOpenAIStreamToAnthropicEmptyStream(t *testing.T) {
	src := strings.NewReader("data: [DONE]\n")
	var dst bytes.Buffer
	require.NoError(t, RewriteOpenAIStreamToAnthropic(src, &dst))

	events := extractEventNames(dst.String())
	assert.Equal(t, []string{"message_start", "ping", "message_delta", "message_stop"}, events)
}

func TestRewriteOpenAIStreamToAnthropicSwallowsMalformedChunk(t *testing.T) {
	src := strings.NewReader(strings.Join([]string{
		`data: {not valid json`,
		`data: {"id":"chatcmpl-1","model":"m","choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
		"",
	}, "\n"))
	var dst bytes.Buffer
	require.NoError(t, RewriteOpenAIStreamToAnthropic(src, &dst))
	events := extractEventNames(dst.String())
	assert.Contains(t, events, "content_block_delta")
}

func extractEventNames(s string) []string {
	var names []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
	}
	return names
}

func countOccurrences(s, substr string) int {
	return strings.Count(s, substr)
}
