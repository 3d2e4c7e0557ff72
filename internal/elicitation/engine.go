// Package elicitation runs one elicitation round: render the prompt, stream
// the model through the dialogue parser, and commit the finished exchange to
// the conversation session.
package elicitation

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ElicitChat/internal/cache"
	"ElicitChat/internal/dialogue"
	"ElicitChat/internal/prompt"
	"ElicitChat/internal/session"
)

// ModelClient streams raw fragments for a rendered prompt. Implementations
// must send dialogue.StopSequence as a stop sequence in Interactive mode.
type ModelClient interface {
	Name() string
	Stream(ctx context.Context, prompt string, mode dialogue.Mode) iter.Seq2[dialogue.Fragment, error]
}

// Request is one elicitation round.
type Request struct {
	Query   string
	Story   string
	Context string
	Mode    dialogue.Mode
}

// Engine orchestrates elicitation rounds against a single session.
type Engine struct {
	client    ModelClient
	session   *session.Session
	assembler *prompt.Assembler
	cache     *cache.Store
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter

	runs      metric.Int64Counter
	fragments metric.Int64Counter
	duration  metric.Float64Histogram
}

// Option configures an Engine.
type Option func(*Engine)

// WithAssembler replaces the default prompt assembler.
func WithAssembler(a *prompt.Assembler) Option {
	return func(e *Engine) { e.assembler = a }
}

// WithCache enables replaying completed replies for identical prompts.
func WithCache(c *cache.Store) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMeter sets the meter used for run metrics.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.meter = m }
}

// New creates an engine bound to client and sess.
func New(client ModelClient, sess *session.Session, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("model client cannot be nil")
	}
	if sess == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}

	e := &Engine{
		client:    client,
		session:   sess,
		assembler: prompt.NewAssembler(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("elicitchat"),
		meter:     otel.Meter("elicitchat"),
	}
	for _, opt := range opts {
		opt(e)
	}

	var err error
	if e.runs, err = e.meter.Int64Counter("elicitation.runs",
		metric.WithDescription("Elicitation rounds by mode and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}
	if e.fragments, err = e.meter.Int64Counter("elicitation.fragments",
		metric.WithDescription("Non-empty fragments received from the model")); err != nil {
		return nil, fmt.Errorf("failed to create fragments counter: %w", err)
	}
	if e.duration, err = e.meter.Float64Histogram("elicitation.run.duration",
		metric.WithDescription("Elicitation round duration in milliseconds")); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return e, nil
}

// Session returns the session this engine appends to.
func (e *Engine) Session() *session.Session { return e.session }

// Backend returns the name of the model client.
func (e *Engine) Backend() string { return e.client.Name() }

// Run validates req and renders its prompt. Nothing is sent to the model
// until the returned Reply is streamed. The session must not be mutated by
// another Run while the reply is in flight.
func (e *Engine) Run(ctx context.Context, req Request) (*Reply, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}

	rendered, err := e.assembler.Render(prompt.Input{
		Context: req.Context,
		Story:   req.Story,
		History: e.session.History(),
		Query:   req.Query,
	})
	if err != nil {
		return nil, err
	}

	return &Reply{
		engine: e,
		ctx:    ctx,
		req:    req,
		prompt: rendered,
	}, nil
}

// Reply is the lazily produced answer to one Request.
type Reply struct {
	engine *Engine
	ctx    context.Context
	req    Request
	prompt string

	consumed  bool
	text      strings.Builder
	stopped   bool
	committed bool
	err       error
}

// Stream yields text increments as the model produces them. The exchange is
// committed to the session only when the stream completes; a failure or an
// abandoned iteration leaves the session unchanged. Stream may be iterated
// once.
func (r *Reply) Stream() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if r.consumed {
			yield("", ErrReplyConsumed)
			return
		}
		r.consumed = true
		r.engine.stream(r, yield)
	}
}

// Final returns the full text of a completed reply.
func (r *Reply) Final() string { return r.text.String() }

// Stopped reports whether the Interactive stop rule truncated the reply.
func (r *Reply) Stopped() bool { return r.stopped }

// Committed reports whether the exchange was appended to the session.
func (r *Reply) Committed() bool { return r.committed }

// Err returns the stream failure, if any.
func (r *Reply) Err() error { return r.err }

// Prompt returns the rendered prompt sent to the model.
func (r *Reply) Prompt() string { return r.prompt }

func (e *Engine) stream(r *Reply, yield func(string, error) bool) {
	mode := r.req.Mode
	ctx, span := e.tracer.Start(r.ctx, "elicitation.run", trace.WithAttributes(
		attribute.String("backend", e.client.Name()),
		attribute.String("mode", mode.String()),
	))
	defer span.End()

	start := time.Now()
	outcome := "abandoned"
	defer func() {
		attrs := metric.WithAttributes(
			attribute.String("mode", mode.String()),
			attribute.String("outcome", outcome),
		)
		e.runs.Add(ctx, 1, attrs)
		e.duration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		span.SetAttributes(attribute.String("outcome", outcome))
	}()

	var key string
	if e.cache != nil {
		key = cache.GenerateCacheKey(e.client.Name(), mode.String(), r.prompt)
		if cached, ok := e.cache.Load(key); ok {
			e.logger.Info("cache hit", "key", key[:16])
			r.text.WriteString(cached.Response)
			r.stopped = cached.Stopped
			if cached.Response != "" && !yield(cached.Response, nil) {
				r.text.Reset()
				return
			}
			e.commit(r)
			outcome = "cached"
			return
		}
	}

	parser := dialogue.NewParser(mode, e.logger)
	for chunk, err := range parser.Transform(e.countFragments(ctx, e.client.Stream(ctx, r.prompt, mode))) {
		if err != nil {
			terr := &StreamTransportError{Backend: e.client.Name(), Err: err}
			r.err = terr
			r.text.Reset()
			outcome = "failed"
			span.RecordError(terr)
			span.SetStatus(codes.Error, terr.Error())
			e.logger.Error("elicitation stream failed", "backend", e.client.Name(), "mode", mode.String(), "error", err)
			yield("", terr)
			return
		}
		r.text.WriteString(chunk)
		if !yield(chunk, nil) {
			e.logger.Info("elicitation stream abandoned", "received_bytes", r.text.Len())
			r.text.Reset()
			return
		}
	}

	r.stopped = parser.Stopped()
	e.commit(r)
	if e.cache != nil {
		e.cache.Store(key, r.Final(), r.stopped)
	}

	outcome = "completed"
	if r.stopped {
		outcome = "stopped"
	}
	e.logger.Info("elicitation round committed",
		"session_id", e.session.ID,
		"mode", mode.String(),
		"stopped", r.stopped,
		"bytes", r.text.Len(),
		"label_order_violations", len(parser.Violations()),
	)
}

// commit appends the human query and the assistant reply, in that order.
func (e *Engine) commit(r *Reply) {
	e.session.Append(session.NewTurn(session.RoleHuman, r.req.Query))
	e.session.Append(session.NewTurn(session.RoleAssistant, r.Final()))
	r.committed = true
}

func (e *Engine) countFragments(ctx context.Context, src iter.Seq2[dialogue.Fragment, error]) iter.Seq2[dialogue.Fragment, error] {
	return func(yield func(dialogue.Fragment, error) bool) {
		for frag, err := range src {
			if err == nil && frag.Text != "" {
				e.fragments.Add(ctx, 1)
			}
			if !yield(frag, err) {
				return
			}
		}
	}
}
