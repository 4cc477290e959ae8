package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveModelPrecedence(t *testing.T) {
	patterns := []PatternMapping{{Pattern: "sonnet", Model: "provider/sonnet-default"}}
	static := map[string]string{"claude-3-opus-20240229": "provider/opus-static"}

	t.Run("exact account mapping wins", func(t *testing.T) {
		mappings := map[string]string{"claude-3-5-sonnet-20241022": "account/custom-model"}
		got := ResolveModel("claude-3-5-sonnet-20241022", mappings, patterns, static)
		assert.Equal(t, "account/custom-model", got)
	})

	t.Run("pattern account mapping beats static table", func(t *testing.T) {
		mappings := map[string]string{"sonnet": "account/sonnet-override"}
		got := ResolveModel("claude-3-5-sonnet-20241022", mappings, patterns, static)
		assert.Equal(t, "account/sonnet-override", got)
	})

	t.Run("static mapping beats pattern default", func(t *testing.T) {
		got := ResolveModel("claude-3-opus-20240229", nil, patterns, static)
		assert.Equal(t, "provider/opus-static", got)
	})

	t.Run("pattern default used when nothing else matches", func(t *testing.T) {
		got := ResolveModel("claude-3-5-sonnet-20241022", nil, patterns, nil)
		assert.Equal(t, "provider/sonnet-default", got)
	})

	t.Run("identity when nothing matches", func(t *testing.T) {
		got := ResolveModel("claude-3-haiku-20240307", nil, patterns, static)
		assert.Equal(t, "claude-3-haiku-20240307", got)
	})
}

func TestMapOpenAIModel(t *testing.T) {
	assert.Equal(t, "openai/gpt-5", MapOpenAIModel("claude-opus-4-6", nil))
	assert.Equal(t, "openai/gpt-5", MapOpenAIModel("claude-3-5-sonnet-20241022", nil))
	assert.Equal(t, "openai/gpt-5-mini", MapOpenAIModel("claude-3-haiku-20240307", nil))
	assert.Equal(t, "openai/gpt-5", MapOpenAIModel("some-unknown-model", nil))

	mappings := map[string]string{"claude-opus-4-6": "account/gpt-5-turbo"}
	assert.Equal(t, "account/gpt-5-turbo", MapOpenAIModel("claude-opus-4-6", mappings))
}
