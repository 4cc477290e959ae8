package utils

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/tidwall/gjson"

	"github.com/relaymesh/anthropic-gateway/core/schemas"
)

// DefaultStreamUsageCapBytes is the SSE usage extractor's default byte cap.
const DefaultStreamUsageCapBytes = 100 * 1024

// DefaultStreamOperationTimeout is the total wall-clock budget for usage
// extraction across an entire SSE stream.
const DefaultStreamOperationTimeout = 10 * time.Second

// DefaultStreamReadTimeout is the default per-read budget. ExtractAnthropicSSEUsage
// does not apply it: only DefaultStreamOperationTimeout bounds extraction.
const DefaultStreamReadTimeout = 5 * time.Second

// ExtractAnthropicJSONUsage reads usage.{input_tokens,output_tokens,
// cache_creation_input_tokens,cache_read_input_tokens} out of any
// Anthropic-shaped response body via gjson, without a full struct unmarshal.
func ExtractAnthropicJSONUsage(body []byte) (schemas.TokenCounts, bool) {
	if !gjson.ValidBytes(body) {
		return schemas.TokenCounts{}, false
	}
	root := gjson.ParseBytes(body)
	usage := root.Get("usage")
	if !usage.Exists() {
		return schemas.TokenCounts{}, false
	}
	counts := schemas.TokenCounts{
		Model:                    root.Get("model").String(),
		InputTokens:              int(usage.Get("input_tokens").Int()),
		OutputTokens:             int(usage.Get("output_tokens").Int()),
		CacheCreationInputTokens: int(usage.Get("cache_creation_input_tokens").Int()),
		CacheReadInputTokens:     int(usage.Get("cache_read_input_tokens").Int()),
	}
	return counts.Normalize(), true
}

// ExtractAnthropicSSEUsage implements the streaming usage extractor:
// scan an Anthropic SSE body for `message_start` (model + initial usage) and the
// last `message_delta` usage, which authoritatively overrides message_start's
// output/input/cache-read counts when present. Bounded by maxBytes and an
// overall wall-clock budget: on hitting the cap it returns whatever was
// accumulated so far; on timeout it returns no usage (ok == false).
func ExtractAnthropicSSEUsage(ctx context.Context, r io.Reader, maxBytes int64) (schemas.TokenCounts, bool) {
	ctx, cancel := context.WithTimeout(ctx, DefaultStreamOperationTimeout)
	defer cancel()

	type result struct {
		counts schemas.TokenCounts
		ok     bool
	}
	resCh := make(chan result, 1)

	go func() {
		reader := NewSSEReader(r, maxBytes)
		var counts schemas.TokenCounts
		var sawAny bool

		for {
			ev, err := reader.Next()
			if err != nil {
				break
			}
			switch ev.Name {
			case "message_start":
				if !gjson.Valid(ev.Data) {
					continue
				}
				msg := gjson.Parse(ev.Data).Get("message")
				if !msg.Exists() {
					continue
				}
				sawAny = true
				counts.Model = msg.Get("model").String()
				u := msg.Get("usage")
				counts.InputTokens = int(u.Get("input_tokens").Int())
				counts.OutputTokens = int(u.Get("output_tokens").Int())
				counts.CacheCreationInputTokens = int(u.Get("cache_creation_input_tokens").Int())
				counts.CacheReadInputTokens = int(u.Get("cache_read_input_tokens").Int())

			case "message_delta":
				if !gjson.Valid(ev.Data) {
					continue
				}
				u := gjson.Parse(ev.Data).Get("usage")
				if !u.Exists() {
					continue
				}
				sawAny = true
				if v := u.Get("output_tokens"); v.Exists() {
					counts.OutputTokens = int(v.Int())
				}
				if v := u.Get("input_tokens"); v.Exists() {
					counts.InputTokens = int(v.Int())
				}
				if v := u.Get("cache_read_input_tokens"); v.Exists() {
					counts.CacheReadInputTokens = int(v.Int())
				}
				if v := u.Get("cache_creation_input_tokens"); v.Exists() {
					counts.CacheCreationInputTokens = int(v.Int())
				}
			}
		}

		resCh <- result{counts: counts.Normalize(), ok: sawAny}
	}()

	select {
	case res := <-resCh:
		return res.counts, res.ok
	case <-ctx.Done():
		return schemas.TokenCounts{}, false
	}
}

// ExtractOpenAIJSONUsage reads usage.{prompt_tokens,completion_tokens,
// total_tokens} from a non-streaming OpenAI-compatible response body.
func ExtractOpenAIJSONUsage(body []byte) (schemas.TokenCounts, bool) {
	if !gjson.ValidBytes(body) {
		return schemas.TokenCounts{}, false
	}
	root := gjson.ParseBytes(body)
	usage := root.Get("usage")
	if !usage.Exists() {
		return schemas.TokenCounts{}, false
	}
	counts := schemas.TokenCounts{
		Model:            root.Get("model").String(),
		PromptTokens:     int(usage.Get("prompt_tokens").Int()),
		CompletionTokens: int(usage.Get("completion_tokens").Int()),
		TotalTokens:      int(usage.Get("total_tokens").Int()),
	}
	counts.InputTokens = counts.PromptTokens
	counts.OutputTokens = counts.CompletionTokens
	if counts.TotalTokens == 0 {
		counts.TotalTokens = counts.PromptTokens + counts.CompletionTokens
	}
	return counts, true
}

// DrainToLimit reads up to n bytes from r, discarding the rest. Used when a
// caller needs a bounded peek at a body it does not otherwise want to buffer
// fully (e.g. error-body previews).
func DrainToLimit(r io.Reader, n int64) ([]byte, error) {
	var buf bytes.Buffer
	_, err := io.Copy(&buf, io.LimitReader(r, n))
	return buf.Bytes(), err
}
