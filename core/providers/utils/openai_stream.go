package utils

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"
)

// openaiStreamChunk is the slice of an OpenAI chat-completion streaming chunk
// this rewriter reads.
type openaiStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// RewriteOpenAIStreamToAnthropic implements streaming transform and
// it reads an OpenAI `data: {json}` / `data: [DONE]` SSE stream
// from src and writes the Anthropic event envelope to dst, incrementally —
// never buffering the whole stream.
func RewriteOpenAIStreamToAnthropic(src io.Reader, dst io.Writer) error {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	w := bufio.NewWriter(dst)
	defer w.Flush()

	startedMessage := false
	startedBlock := false
	model := ""
	msgID := ""

	writeEvent := func(name string, payload any) error {
		body, err := sonic.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, body); err != nil {
			return err
		}
		return w.Flush()
	}

	ensureStarted := func(chunk openaiStreamChunk) error {
		if startedMessage {
			return nil
		}
		startedMessage = true
		model = chunk.Model
		msgID = chunk.ID
		if msgID == "" {
			msgID = "msg_stream"
		}
		if err := writeEvent("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":    msgID,
				"type":  "message",
				"role":  "assistant",
				"model": model,
				"usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		}); err != nil {
			return err
		}
		return writeEvent("ping", map[string]any{"type": "ping"})
	}

	ensureBlockStarted := func() error {
		if startedBlock {
			return nil
		}
		startedBlock = true
		return writeEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": 0,
			"content_block": map[string]any{
				"type": "text",
				"text": "",
			},
		})
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk openaiStreamChunk
		if err := sonic.Unmarshal([]byte(payload), &chunk); err != nil {
			continue // individual chunk parse errors are swallowed
		}
		if err := ensureStarted(chunk); err != nil {
			return err
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if err := ensureBlockStarted(); err != nil {
				return err
			}
			if err := writeEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]any{"type": "text_delta", "text": choice.Delta.Content},
			}); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if !startedMessage {
		// upstream produced no chunks at all; still emit a well-formed empty envelope.
		if err := ensureStarted(openaiStreamChunk{}); err != nil {
			return err
		}
	}
	if startedBlock {
		if err := writeEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}); err != nil {
			return err
		}
	}
	if err := writeEvent("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": "end_turn"},
	}); err != nil {
		return err
	}
	return writeEvent("message_stop", map[string]any{"type": "message_stop"})
}
