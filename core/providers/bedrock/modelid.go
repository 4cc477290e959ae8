// Package bedrock implements the AWS Bedrock provider: model-ID
// normalization and fuzzy matching, the inference-profile cache, and the
// Converse request/response transform.
package bedrock

import (
	"regexp"
	"strings"
)

var (
	regionPrefixRe  = regexp.MustCompile(`^(us|eu|apac|au|ca|jp|global)\.`)
	providerRe      = regexp.MustCompile(`^[a-z0-9-]+\.`)
	versionSuffixRe = regexp.MustCompile(`-v\d+(:\d+)?$`)
)

// Normalize produces BedrockModel.SearchKey: strip a
// region/scope prefix, the provider prefix ("anthropic."), and a trailing
// "-v<n>" or "-v<n>:<n>" version suffix, then lower-case. Idempotent:
// normalizing an already-normalized string is a no-op.
func Normalize(modelID string) string {
	s := strings.ToLower(modelID)
	s = regionPrefixRe.ReplaceAllString(s, "")
	s = providerRe.ReplaceAllString(s, "")
	s = versionSuffixRe.ReplaceAllString(s, "")
	return s
}

// FuzzyMatchScore implements the matching rule: exact match of normalized
// forms scores 1.0, a substring match scores 0.8, otherwise the score is
// 1 - levenshtein(a,b)/max(len(a),len(b)).
func FuzzyMatchScore(clientModel, candidateModelID string) float64 {
	a := Normalize(clientModel)
	b := Normalize(candidateModelID)
	if a == b {
		return 1.0
	}
	if strings.Contains(b, a) || strings.Contains(a, b) {
		return 0.8
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// MatchThreshold is the minimum fuzzy score the model cache accepts before
// falling back to passthrough of the client's own model name.
const MatchThreshold = 0.70

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			min := del
			if ins < min {
				min = ins
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
