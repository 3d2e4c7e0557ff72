// Package backend implements streaming model clients for the supported LLM
// providers. Each client decodes its provider's chunk wrapping and yields
// plain text fragments.
package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ElicitChat/internal/config"
	"ElicitChat/internal/dialogue"
)

// Client streams fragments for a rendered prompt.
type Client interface {
	Name() string
	Stream(ctx context.Context, prompt string, mode dialogue.Mode) iter.Seq2[dialogue.Fragment, error]
}

// Options configures an HTTP backend
type Options struct {
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// New builds the client selected by cfg. cfg must already be resolved.
func New(cfg config.Config, logger *slog.Logger) (Client, error) {
	opts := Options{
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey,
		MaxTokens: cfg.MaxTokens,
		Timeout:   cfg.Timeout,
		Logger:    logger,
	}

	switch cfg.Backend {
	case config.BackendOllama:
		return NewOllama(opts)
	case config.BackendAnthropic:
		return NewAnthropic(opts)
	case config.BackendOpenAI, config.BackendGrok, config.BackendDashScope:
		return NewOpenAICompatible(cfg.Backend, opts)
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}

// stopSequences returns the stop list for mode
func stopSequences(mode dialogue.Mode) []string {
	if mode == dialogue.Interactive {
		return []string{dialogue.StopSequence}
	}
	return nil
}

// decodeFunc turns one payload line into a fragment. skip drops the line
// without yielding; a non-nil error aborts the stream.
type decodeFunc func(payload []byte) (frag dialogue.Fragment, usage map[string]interface{}, skip bool, err error)

// httpBackend holds the transport shared by all providers
type httpBackend struct {
	name       string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

func newHTTPBackend(name string, opts Options) (*httpBackend, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%s: base URL is required", name)
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("%s: model is required", name)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &httpBackend{
		name:       name,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Transport: newTransport(timeout)},
		logger:     logger,
		tracer:     otel.Tracer("elicitchat/backend"),
		meter:      otel.Meter("elicitchat/backend"),
	}, nil
}

// newTransport bounds connecting and waiting for response headers by timeout.
// The streamed body is bounded only by the request context, since a long
// generation may legitimately outlast it.
func newTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = timeout
	t.TLSHandshakeTimeout = min(timeout, t.TLSHandshakeTimeout)
	return t
}

// Name returns the backend name
func (b *httpBackend) Name() string { return b.name }

// Model returns the model requested from the provider
func (b *httpBackend) Model() string { return b.model }

// post sends a JSON request and returns the response body.
// The caller must close the returned body.
func (b *httpBackend) post(ctx context.Context, path string, reqBody interface{}, headers map[string]string) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return resp.Body, nil
}

// streamLines posts reqBody and decodes the response line by line. With sse
// set, only "data:" lines are decoded and "[DONE]" ends the stream.
// Lines that fail to decode as provider JSON are skipped. The stream is
// complete only once "[DONE]" or a Done fragment is seen; an earlier EOF
// yields an error wrapping io.ErrUnexpectedEOF.
func (b *httpBackend) streamLines(ctx context.Context, path string, reqBody interface{}, headers map[string]string, sse bool, decode decodeFunc) iter.Seq2[dialogue.Fragment, error] {
	return func(yield func(dialogue.Fragment, error) bool) {
		ctx, span := b.tracer.Start(ctx, b.name+"_api_call", trace.WithAttributes(
			attribute.String("llm.model", b.model),
		))
		defer span.End()

		start := time.Now()
		defer b.recordDuration(ctx, start)

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			b.logger.Error("model stream failed", "backend", b.name, "error", err)
			yield(dialogue.Fragment{}, err)
		}

		body, err := b.post(ctx, path, reqBody, headers)
		if err != nil {
			fail(err)
			return
		}
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		complete := false
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if sse {
				data, ok := bytes.CutPrefix(line, []byte("data:"))
				if !ok {
					continue
				}
				line = bytes.TrimSpace(data)
				if string(line) == "[DONE]" {
					complete = true
					break
				}
			}

			frag, usage, skip, err := decode(line)
			if err != nil {
				fail(err)
				return
			}
			if usage != nil {
				b.recordUsage(ctx, usage)
			}
			if skip {
				continue
			}
			if !yield(frag, nil) {
				b.logger.Debug("model stream closed by consumer", "backend", b.name)
				return
			}
			if frag.Done {
				complete = true
				break
			}
		}
		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("failed to read stream: %w", err))
			return
		}
		// A body that ends without the provider's end marker was cut off.
		if !complete {
			fail(fmt.Errorf("stream ended before completion: %w", io.ErrUnexpectedEOF))
		}
	}
}

func (b *httpBackend) recordDuration(ctx context.Context, start time.Time) {
	histogram, err := b.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("backend", b.name)))
	}
}

// recordUsage records OpenTelemetry counters from provider usage data
func (b *httpBackend) recordUsage(ctx context.Context, usage map[string]interface{}) {
	for key, value := range usage {
		intVal, ok := value.(float64)
		if !ok {
			continue
		}
		counter, err := b.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			b.logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, int64(intVal), metric.WithAttributes(attribute.String("backend", b.name)))
	}
}
