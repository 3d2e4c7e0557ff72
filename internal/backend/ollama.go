package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"

	"ElicitChat/internal/dialogue"
)

// OllamaRequest represents the request body for Ollama API
type OllamaRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

// OllamaResponse represents one NDJSON line of an Ollama chat stream
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

// OllamaTagsResponse represents the response from Ollama /api/tags endpoint
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// Ollama streams from a local Ollama server's /api/chat endpoint
type Ollama struct {
	*httpBackend
}

// NewOllama creates an Ollama client
func NewOllama(opts Options) (*Ollama, error) {
	b, err := newHTTPBackend("ollama", opts)
	if err != nil {
		return nil, err
	}
	return &Ollama{httpBackend: b}, nil
}

// Stream sends prompt as a single user message and yields the reply as it arrives
func (c *Ollama) Stream(ctx context.Context, prompt string, mode dialogue.Mode) iter.Seq2[dialogue.Fragment, error] {
	options := map[string]any{
		"temperature": 0.0,
		"num_predict": c.maxTokens,
	}
	if stop := stopSequences(mode); stop != nil {
		options["stop"] = stop
	}

	reqBody := OllamaRequest{
		Model:    c.model,
		Messages: []map[string]string{{"role": "user", "content": prompt}},
		Stream:   true,
		Options:  options,
	}

	return c.streamLines(ctx, "/api/chat", reqBody, nil, false, decodeOllama)
}

func decodeOllama(line []byte) (dialogue.Fragment, map[string]interface{}, bool, error) {
	var chunk OllamaResponse
	if err := json.Unmarshal(line, &chunk); err != nil {
		return dialogue.Fragment{}, nil, true, nil
	}
	if chunk.Error != "" {
		return dialogue.Fragment{}, nil, false, fmt.Errorf("ollama error: %s", chunk.Error)
	}

	var usage map[string]interface{}
	if chunk.Done {
		usage = map[string]interface{}{
			"prompt_tokens":     float64(chunk.PromptEvalCount),
			"completion_tokens": float64(chunk.EvalCount),
		}
	}
	return dialogue.Fragment{Text: chunk.Message.Content, Done: chunk.Done}, usage, false, nil
}

// ListModels fetches the list of available Ollama models
func (c *Ollama) ListModels(ctx context.Context) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request (is Ollama running?): %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var tagsResp OllamaTagsResponse
	if err := json.Unmarshal(body, &tagsResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return tagsResp.Models, nil
}
