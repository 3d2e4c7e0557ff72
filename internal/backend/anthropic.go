package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"ElicitChat/internal/dialogue"
)

// AnthropicRequest represents the request body for Anthropic API
type AnthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	Messages      []AnthropicMessage `json:"messages"`
	Temperature   float64            `json:"temperature"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream"`
}

// AnthropicMessage represents a message in the conversation
type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AnthropicStreamEvent represents one server-sent event of a Messages stream.
// Only the fields used for text streaming are decoded.
type AnthropicStreamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		Model string                 `json:"model"`
		Usage map[string]interface{} `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type         string `json:"type"`
		Text         string `json:"text"`
		StopReason   string `json:"stop_reason"`
		StopSequence string `json:"stop_sequence"`
	} `json:"delta,omitempty"`
	Usage map[string]interface{} `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Anthropic streams from the Anthropic Messages API
type Anthropic struct {
	*httpBackend
	apiKey string
}

// NewAnthropic creates an Anthropic client
func NewAnthropic(opts Options) (*Anthropic, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	b, err := newHTTPBackend("anthropic", opts)
	if err != nil {
		return nil, err
	}
	return &Anthropic{httpBackend: b, apiKey: opts.APIKey}, nil
}

// Stream sends prompt as a single user message and yields text deltas
func (c *Anthropic) Stream(ctx context.Context, prompt string, mode dialogue.Mode) iter.Seq2[dialogue.Fragment, error] {
	reqBody := AnthropicRequest{
		Model:         c.model,
		MaxTokens:     c.maxTokens,
		Messages:      []AnthropicMessage{{Role: "user", Content: prompt}},
		Temperature:   0,
		StopSequences: stopSequences(mode),
		Stream:        true,
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}

	return c.streamLines(ctx, "/v1/messages", reqBody, headers, true, decodeAnthropic)
}

func decodeAnthropic(payload []byte) (dialogue.Fragment, map[string]interface{}, bool, error) {
	var ev AnthropicStreamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return dialogue.Fragment{}, nil, true, nil
	}

	switch ev.Type {
	case "message_start":
		// output_tokens here is a placeholder; message_delta carries the final count
		if ev.Message != nil {
			if in, ok := ev.Message.Usage["input_tokens"]; ok {
				return dialogue.Fragment{}, map[string]interface{}{"input_tokens": in}, true, nil
			}
		}
	case "content_block_delta":
		if ev.Delta != nil && ev.Delta.Type == "text_delta" {
			return dialogue.Fragment{Text: ev.Delta.Text}, nil, false, nil
		}
	case "message_delta":
		if out, ok := ev.Usage["output_tokens"]; ok {
			return dialogue.Fragment{}, map[string]interface{}{"output_tokens": out}, true, nil
		}
	case "message_stop":
		return dialogue.Fragment{Done: true}, nil, false, nil
	case "error":
		if ev.Error != nil {
			return dialogue.Fragment{}, nil, false, fmt.Errorf("API error: %s - %s", ev.Error.Type, ev.Error.Message)
		}
		return dialogue.Fragment{}, nil, false, fmt.Errorf("API error: unknown stream error")
	}
	return dialogue.Fragment{}, nil, true, nil
}
