package utils

import "strings"

// ResolveModel implements the resolution precedence: exact account mapping
// key > known-pattern account mapping key > static provider mapping > identity.
// patterns is an ordered list of (pattern, provider-model) pairs matched as a
// case-insensitive substring of the client model name; static is the
// provider's own built-in fallback table, consulted only when no account
// mapping (exact or pattern) matched.
func ResolveModel(clientModel string, accountMappings map[string]string, patterns []PatternMapping, static map[string]string) string {
	if v, ok := accountMappings[clientModel]; ok && v != "" {
		return v
	}

	lower := strings.ToLower(clientModel)
	for _, p := range patterns {
		if v, ok := accountMappings[p.Pattern]; ok && v != "" && strings.Contains(lower, p.Pattern) {
			return v
		}
	}

	if v, ok := static[clientModel]; ok && v != "" {
		return v
	}
	for _, p := range patterns {
		if strings.Contains(lower, p.Pattern) {
			return p.Model
		}
	}

	return clientModel
}

// PatternMapping pairs a lower-cased substring pattern ("opus", "sonnet", …)
// with the provider model name it resolves to when no account override exists.
type PatternMapping struct {
	Pattern string
	Model   string
}

// OpenAIPatterns is the OpenAI-compatible adapter's built-in pattern table:
// opus/sonnet → gpt-5, haiku → gpt-5-mini, with gpt-5 as the final
// identity fallback when nothing matches.
var OpenAIPatterns = []PatternMapping{
	{Pattern: "opus", Model: "openai/gpt-5"},
	{Pattern: "sonnet", Model: "openai/gpt-5"},
	{Pattern: "haiku", Model: "openai/gpt-5-mini"},
}

const OpenAIDefaultModel = "openai/gpt-5"

// MapOpenAIModel resolves a client model name to its OpenAI equivalent:
// account mapping first, then the opus/sonnet/haiku patterns, else the
// gpt-5 default.
func MapOpenAIModel(clientModel string, accountMappings map[string]string) string {
	resolved := ResolveModel(clientModel, accountMappings, OpenAIPatterns, nil)
	if resolved == clientModel {
		// Identity fallthrough means nothing matched at all; the ultimate
		// default is gpt-5, not the client's own (likely Anthropic) model
		// name passed straight through.
		return OpenAIDefaultModel
	}
	return resolved
}
