package utils

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// hardLimitStatuses mark an account as rate-limited outright; soft statuses
// signal "close to the edge" but still permit the request
// (Soft rate-limit glossary entry).
var hardLimitStatuses = map[string]bool{
	"rate_limited":     true,
	"blocked":          true,
	"queueing_hard":    true,
	"payment_required": true,
}

var softLimitStatuses = map[string]bool{
	"allowed_warning": true,
	"queueing_soft":   true,
}

// ParseUnifiedHeaders reads the anthropic-ratelimit-unified-* header
// family, present on both Anthropic-direct and anthropic-compatible
// upstreams. This is the first precedence step in the rate-limit chain.
func ParseUnifiedHeaders(h http.Header) (*schemas.RateLimitInfo, bool) {
	status := h.Get("anthropic-ratelimit-unified-status")
	reset := h.Get("anthropic-ratelimit-unified-reset")
	if status == "" && reset == "" {
		return nil, false
	}

	info := &schemas.RateLimitInfo{StatusHeader: status}

	switch {
	case hardLimitStatuses[status]:
		info.IsRateLimited = true
	case softLimitStatuses[status]:
		info.IsRateLimited = false
	default:
		info.IsRateLimited = false
	}

	if reset != "" {
		if secs, err := strconv.ParseInt(reset, 10, 64); err == nil {
			ms := secs * 1000
			info.ResetTime = &ms
		}
	}
	if remaining := h.Get("anthropic-ratelimit-unified-remaining"); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil {
			info.Remaining = &n
		}
	}

	return info, true
}

// ParseRetryAfter parses retry-after as either an integer number of
// seconds or an HTTP-date. This is the third precedence step in the
// rate-limit chain.
func ParseRetryAfter(h http.Header) *int64 {
	ra := h.Get("retry-after")
	if ra == "" {
		return nil
	}
	if secs, err := strconv.ParseInt(strings.TrimSpace(ra), 10, 64); err == nil {
		ms := time.Now().Add(time.Duration(secs) * time.Second).UnixMilli()
		return &ms
	}
	if t, err := http.ParseTime(ra); err == nil {
		ms := t.UnixMilli()
		return &ms
	}
	return nil
}

// DefaultParseRateLimit is the base-provider rate-limit parser: unified
// headers first, else "not limited unless status 429", else retry-after.
func DefaultParseRateLimit(resp *http.Response) *schemas.RateLimitInfo {
	if info, ok := ParseUnifiedHeaders(resp.Header); ok {
		return info
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		return &schemas.RateLimitInfo{IsRateLimited: false}
	}
	info := &schemas.RateLimitInfo{IsRateLimited: true, StatusHeader: strconv.Itoa(resp.StatusCode)}
	info.ResetTime = ParseRetryAfter(resp.Header)
	return info
}

// AnthropicRateLimitReset reads x-ratelimit-reset as a number of seconds from
// now, used as the Anthropic adapter's secondary fallback
// ahead of the generic "now + 60s" default.
func AnthropicRateLimitReset(h http.Header) *int64 {
	v := h.Get("x-ratelimit-reset")
	if v == "" {
		return nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	ms := time.Now().Add(time.Duration(secs) * time.Second).UnixMilli()
	return &ms
}

// ParseZaiRateLimitBody parses z.ai's body-based 429 signal,
// `{"type":"error","error":{"type":"1308","message":"...reset at
// YYYY-MM-DD HH:MM:SS"}}`, where the timestamp is in UTC+8 (Singapore
// time). This is the final precedence step in the rate-limit chain.
func ParseZaiRateLimitBody(body []byte) *schemas.RateLimitInfo {
	if !gjson.ValidBytes(body) {
		return nil
	}
	root := gjson.ParseBytes(body)
	if root.Get("type").String() != "error" {
		return nil
	}
	errType := root.Get("error.type").String()
	if errType != "1308" {
		return nil
	}
	msg := root.Get("error.message").String()
	idx := strings.Index(msg, "reset at ")
	if idx < 0 {
		return &schemas.RateLimitInfo{IsRateLimited: true, StatusHeader: errType}
	}
	tsStr := strings.TrimSpace(msg[idx+len("reset at "):])

	sgt := time.FixedZone("UTC+8", 8*60*60)
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", tsStr, sgt)
	if err != nil {
		return &schemas.RateLimitInfo{IsRateLimited: true, StatusHeader: errType}
	}
	ms := parsed.UTC().UnixMilli()
	return &schemas.RateLimitInfo{IsRateLimited: true, StatusHeader: errType, ResetTime: &ms}
}
