package bedrock

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// converseTextBlock/converseMessage/converseRequest mirror the slice of the
// Bedrock Converse request shape this transform produces.
type converseTextBlock struct {
	Text string `json:"text"`
}

type converseContent struct {
	Text string `json:"text"`
}

type converseMessage struct {
	Role    string            `json:"role"`
	Content []converseContent `json:"content"`
}

type converseInferenceConfig struct {
	MaxTokens     int      `json:"maxTokens,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

type converseRequest struct {
	Messages        []converseMessage       `json:"messages"`
	System          []converseTextBlock     `json:"system,omitempty"`
	InferenceConfig converseInferenceConfig `json:"inferenceConfig,omitempty"`
}

// anthropicContentIn accepts either a plain string or an array of
// {type,text} blocks, matching the Anthropic Messages content shape.
type anthropicContentIn struct {
	text   string
	blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
}

func (c *anthropicContentIn) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '"' {
		return sonic.Unmarshal(data, &c.text)
	}
	return sonic.Unmarshal(data, &c.blocks)
}

func (c anthropicContentIn) flatten() string {
	if c.text != "" {
		return strings.TrimSpace(c.text)
	}
	var sb strings.Builder
	for _, b := range c.blocks {
		if b.Type == "text" || b.Type == "" {
			sb.WriteString(b.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

type anthropicMessagesRequest struct {
	Model         string                         `json:"model"`
	System        anthropicContentIn             `json:"system"`
	Messages      []anthropicMessageWithContent  `json:"messages"`
	MaxTokens     int                            `json:"max_tokens"`
	Temperature   *float64                       `json:"temperature"`
	TopP          *float64                       `json:"top_p"`
	TopK          *int                           `json:"top_k"`
	StopSequences []string                       `json:"stop_sequences"`
	Stream        bool                           `json:"stream"`
	Metadata      map[string]any                 `json:"metadata"`
}

type anthropicMessageWithContent struct {
	Role    string             `json:"role"`
	Content anthropicContentIn `json:"content"`
}

// TransformToConverse converts a Claude Messages request body into Bedrock's
// Converse input shape. Text-only blocks, trimmed, empties dropped; fails if
// no non-empty message remains. top_k and metadata are dropped with a warning
// returned to the caller (not an error) so the caller can log it.
func TransformToConverse(body []byte) (*converseRequest, []string, error) {
	var in anthropicMessagesRequest
	if err := sonic.Unmarshal(body, &in); err != nil {
		return nil, nil, fmt.Errorf("bedrock: malformed anthropic request body: %w", err)
	}

	var warnings []string
	if in.TopK != nil {
		warnings = append(warnings, "top_k is not supported by Bedrock Converse and was dropped")
	}
	if in.Metadata != nil {
		warnings = append(warnings, "metadata is not supported by Bedrock Converse and was dropped")
	}

	out := &converseRequest{
		InferenceConfig: converseInferenceConfig{
			MaxTokens:     in.MaxTokens,
			Temperature:   in.Temperature,
			TopP:          in.TopP,
			StopSequences: in.StopSequences,
		},
	}
	if sysText := in.System.flatten(); sysText != "" {
		out.System = []converseTextBlock{{Text: sysText}}
	}

	for _, m := range in.Messages {
		text := m.Content.flatten()
		if text == "" {
			continue
		}
		out.Messages = append(out.Messages, converseMessage{
			Role:    m.Role,
			Content: []converseContent{{Text: text}},
		})
	}
	if len(out.Messages) == 0 {
		return nil, warnings, fmt.Errorf("bedrock: no non-empty message content to send")
	}

	return out, warnings, nil
}

// converseResponse mirrors the slice of Bedrock's Converse response this
// transform reads.
type converseResponse struct {
	Output struct {
		Message struct {
			Content []converseContent `json:"content"`
		} `json:"message"`
	} `json:"output"`
	StopReason string `json:"stopReason"`
	Usage      struct {
		InputTokens  int64 `json:"inputTokens"`
		OutputTokens int64 `json:"outputTokens"`
	} `json:"usage"`
}

// TransformFromConverse implements non-streaming response transform:
// Converse JSON -> Anthropic Messages JSON.
func TransformFromConverse(body []byte, id, model string) ([]byte, error) {
	var in converseResponse
	if err := sonic.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("bedrock: malformed converse response: %w", err)
	}

	content := make([]map[string]any, 0, len(in.Output.Message.Content))
	for _, c := range in.Output.Message.Content {
		content = append(content, map[string]any{"type": "text", "text": c.Text})
	}

	out := map[string]any{
		"id":          id,
		"type":        "message",
		"role":        "assistant",
		"model":       model,
		"content":     content,
		"stop_reason": in.StopReason,
		"usage": map[string]any{
			"input_tokens":  in.Usage.InputTokens,
			"output_tokens": in.Usage.OutputTokens,
		},
	}
	return sonic.Marshal(out)
}
