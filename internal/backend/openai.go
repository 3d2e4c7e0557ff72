package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"ElicitChat/internal/dialogue"
)

// OpenAIRequest represents the request body for OpenAI-compatible APIs
type OpenAIRequest struct {
	Model         string               `json:"model"`
	Messages      []map[string]string  `json:"messages"`
	Temperature   float64              `json:"temperature"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Stop          []string             `json:"stop,omitempty"`
	Stream        bool                 `json:"stream"`
	StreamOptions *OpenAIStreamOptions `json:"stream_options,omitempty"`
}

// OpenAIStreamOptions asks for a final usage chunk
type OpenAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// OpenAIStreamChunk represents one server-sent event of a chat completion stream
type OpenAIStreamChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// OpenAI streams from any OpenAI-compatible chat completions endpoint
// (OpenAI, Grok, DashScope compatible mode).
type OpenAI struct {
	*httpBackend
	apiKey string
}

// NewOpenAICompatible creates a client named name for an OpenAI-compatible API
func NewOpenAICompatible(name string, opts Options) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", name)
	}
	b, err := newHTTPBackend(name, opts)
	if err != nil {
		return nil, err
	}
	return &OpenAI{httpBackend: b, apiKey: opts.APIKey}, nil
}

// Stream sends prompt as a single user message and yields content deltas
func (c *OpenAI) Stream(ctx context.Context, prompt string, mode dialogue.Mode) iter.Seq2[dialogue.Fragment, error] {
	reqBody := OpenAIRequest{
		Model:         c.model,
		Messages:      []map[string]string{{"role": "user", "content": prompt}},
		Temperature:   0,
		MaxTokens:     c.maxTokens,
		Stop:          stopSequences(mode),
		Stream:        true,
		StreamOptions: &OpenAIStreamOptions{IncludeUsage: true},
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	return c.streamLines(ctx, "/chat/completions", reqBody, headers, true, decodeOpenAI)
}

func decodeOpenAI(payload []byte) (dialogue.Fragment, map[string]interface{}, bool, error) {
	var chunk OpenAIStreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return dialogue.Fragment{}, nil, true, nil
	}
	if chunk.Error != nil {
		return dialogue.Fragment{}, nil, false, fmt.Errorf("API error: %s - %s", chunk.Error.Type, chunk.Error.Message)
	}
	if len(chunk.Choices) == 0 {
		// usage-only chunk
		return dialogue.Fragment{}, chunk.Usage, true, nil
	}
	// The final usage chunk follows finish_reason, so Done is left to [DONE].
	return dialogue.Fragment{Text: chunk.Choices[0].Delta.Content}, chunk.Usage, false, nil
}
