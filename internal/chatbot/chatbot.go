package chatbot

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ElicitChat/internal/backend"
	"ElicitChat/internal/cache"
	"ElicitChat/internal/config"
	"ElicitChat/internal/dialogue"
	"ElicitChat/internal/elicitation"
	"ElicitChat/internal/prompt"
	"ElicitChat/internal/session"
	"ElicitChat/internal/story"
	"ElicitChat/internal/telemetry"
)

var errNoStory = errors.New("no story selected: use /stories, /story <id> or /story-new <title>")

// ClientFactory builds the model client for a resolved configuration
type ClientFactory func(cfg config.Config, logger *slog.Logger) (backend.Client, error)

// ChatBot represents the main application
type ChatBot struct {
	config  config.Config
	lookup  func(string) (string, bool)
	db      *sql.DB
	ownsDB  bool
	stories *story.Store
	cache   *cache.Store
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	cleanup func()

	newClient ClientFactory
	engine    *elicitation.Engine
	session   *session.Session
	mode      dialogue.Mode
	current   *story.Record
	mu        sync.Mutex

	scanner  *bufio.Scanner
	lines    <-chan string
	stopScan chan struct{}
	out      io.Writer
}

// Option configures a ChatBot
type Option func(*ChatBot)

// WithIO replaces stdin and stdout
func WithIO(in io.Reader, out io.Writer) Option {
	return func(cb *ChatBot) {
		cb.scanner = bufio.NewScanner(in)
		cb.out = out
	}
}

// WithClientFactory replaces backend.New
func WithClientFactory(f ClientFactory) Option {
	return func(cb *ChatBot) { cb.newClient = f }
}

// WithLookup replaces os.LookupEnv for credential lookups on /switch
func WithLookup(f func(string) (string, bool)) Option {
	return func(cb *ChatBot) { cb.lookup = f }
}

// WithTelemetry sets the tracer and meter handed to the engine
func WithTelemetry(tracer trace.Tracer, meter metric.Meter, cleanup func()) Option {
	return func(cb *ChatBot) {
		cb.tracer = tracer
		cb.meter = meter
		cb.cleanup = cleanup
	}
}

// NewChatBot initializes logging, telemetry and the database, then builds
// the chatbot for cfg. cfg must already be resolved.
func NewChatBot(ctx context.Context, cfg config.Config) (*ChatBot, error) {
	logger, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	db, err := telemetry.InitDB(cfg.DBPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	cb, err := New(ctx, cfg, db, logger, WithTelemetry(tracer, meter, cleanup))
	if err != nil {
		db.Close()
		cleanup()
		return nil, err
	}
	cb.ownsDB = true
	return cb, nil
}

// New builds a chatbot over an initialized database. The caller keeps
// ownership of db.
func New(ctx context.Context, cfg config.Config, db *sql.DB, logger *slog.Logger, opts ...Option) (*ChatBot, error) {
	cb := &ChatBot{
		config:    cfg,
		lookup:    os.LookupEnv,
		db:        db,
		stories:   story.NewStore(db),
		logger:    logger,
		newClient: backend.New,
		mode:      cfg.DialogueMode(),
		scanner:   bufio.NewScanner(os.Stdin),
		out:       os.Stdout,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if cfg.CacheEnabled {
		cb.cache = cache.New(cfg.CacheTTL)
	}

	if cfg.SessionID != "" {
		sess, err := cb.loadSession(ctx, cfg.SessionID)
		if err != nil {
			logger.Warn("failed to load session, creating new one", "error", err)
			cb.session = cb.newSession()
		} else {
			cb.session = sess
			logger.Info("loaded existing session", "session_id", sess.ID, "turns", sess.Len())
		}
	} else {
		cb.session = cb.newSession()
	}

	if err := cb.useClient(cfg); err != nil {
		return nil, err
	}

	if err := cb.selectInitialStory(ctx); err != nil {
		return nil, err
	}

	return cb, nil
}

// useClient builds a client for cfg and an engine bound to the current session
func (cb *ChatBot) useClient(cfg config.Config) error {
	client, err := cb.newClient(cfg, cb.logger)
	if err != nil {
		return fmt.Errorf("failed to create %s client: %w", cfg.Backend, err)
	}

	opts := []elicitation.Option{
		elicitation.WithLogger(cb.logger),
		elicitation.WithAssembler(prompt.NewAssembler(prompt.WithLanguage(cfg.Language))),
	}
	if cb.cache != nil {
		opts = append(opts, elicitation.WithCache(cb.cache))
	}
	if cb.tracer != nil {
		opts = append(opts, elicitation.WithTracer(cb.tracer))
	}
	if cb.meter != nil {
		opts = append(opts, elicitation.WithMeter(cb.meter))
	}

	engine, err := elicitation.New(client, cb.session, opts...)
	if err != nil {
		return err
	}

	cb.mu.Lock()
	cb.config = cfg
	cb.engine = engine
	cb.session.Backend = cfg.Backend
	cb.mu.Unlock()
	return nil
}

// selectInitialStory picks the configured story, or the oldest one
func (cb *ChatBot) selectInitialStory(ctx context.Context) error {
	if cb.config.StoryID != "" {
		id, err := uuid.Parse(cb.config.StoryID)
		if err != nil {
			return fmt.Errorf("invalid story id: %w", err)
		}
		rec, err := cb.stories.Get(ctx, id)
		if err != nil {
			return err
		}
		cb.current = &rec
		return nil
	}

	records, err := cb.stories.List(ctx)
	if err != nil {
		return err
	}
	if len(records) > 0 {
		cb.current = &records[0]
	}
	return nil
}

// newSession creates a new session
func (cb *ChatBot) newSession() *session.Session {
	sessionID := fmt.Sprintf("session_%d", time.Now().UnixNano())
	sess := session.New(sessionID, cb.config.Backend)
	cb.logger.Info("created new session", "session_id", sessionID, "backend", cb.config.Backend)
	return sess
}

// sendMessage runs one elicitation round and streams the reply to the terminal
func (cb *ChatBot) sendMessage(ctx context.Context, query string) error {
	if cb.current == nil {
		return errNoStory
	}

	reply, err := cb.engine.Run(ctx, elicitation.Request{
		Query:   query,
		Story:   cb.current.StoryText(),
		Context: cb.current.BusinessContext,
		Mode:    cb.mode,
	})
	if err != nil {
		return err
	}

	fmt.Fprint(cb.out, "Bot: ")
	for chunk, err := range reply.Stream() {
		if err != nil {
			fmt.Fprintln(cb.out)
			return err
		}
		fmt.Fprint(cb.out, chunk)
	}
	if !strings.HasSuffix(reply.Final(), "\n") {
		fmt.Fprintln(cb.out)
	}
	if reply.Stopped() {
		fmt.Fprintln(cb.out, "(answer the question to continue)")
	}
	fmt.Fprintln(cb.out)

	if err := cb.saveSession(ctx); err != nil {
		cb.logger.Error("failed to save session", "error", err)
	}
	return nil
}

// Run starts the chat loop and returns when input ends or the user quits
func (cb *ChatBot) Run(ctx context.Context) error {
	defer cb.Close()

	fmt.Fprintln(cb.out, "=== ElicitChat ===")
	fmt.Fprintf(cb.out, "Session: %s\n", cb.session.ID)
	fmt.Fprintf(cb.out, "Backend: %s (%s)\n", cb.session.Backend, cb.config.Model)
	fmt.Fprintf(cb.out, "Mode: %s\n", cb.mode)
	if cb.current != nil {
		fmt.Fprintf(cb.out, "Story: %s [%s]\n", cb.current.Title, cb.current.ID)
	} else {
		fmt.Fprintln(cb.out, "No stories yet. Create one with /story-new <title>")
	}
	fmt.Fprintln(cb.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(cb.out)

	for ctx.Err() == nil {
		fmt.Fprint(cb.out, "You: ")
		input, ok := cb.readLine(ctx)
		if !ok {
			break
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(cb.out, "Error: %v\n", err)
				cb.logger.Error("command error", "command", strings.Fields(input)[0], "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if err := cb.sendMessage(ctx, input); err != nil {
			fmt.Fprintf(cb.out, "Error: %v\n", err)
			cb.logger.Error("failed to send message", "error", err)
		}
	}

	if err := cb.saveSession(context.WithoutCancel(ctx)); err != nil {
		cb.logger.Error("failed to save session on exit", "error", err)
		return err
	}

	fmt.Fprintln(cb.out, "Goodbye!")
	return nil
}

// readLine returns the next trimmed input line. It gives up as soon as ctx
// is done, even while the underlying read is still blocked.
func (cb *ChatBot) readLine(ctx context.Context) (string, bool) {
	if cb.lines == nil {
		cb.stopScan = make(chan struct{})
		cb.lines = cb.scanLines(cb.stopScan)
	}
	if ctx.Err() != nil {
		return "", false
	}
	select {
	case <-ctx.Done():
		return "", false
	case line, ok := <-cb.lines:
		return line, ok
	}
}

func (cb *ChatBot) scanLines(stop <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for cb.scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(cb.scanner.Text()):
			case <-stop:
				return
			}
		}
	}()
	return lines
}

// Close releases what NewChatBot opened and flushes telemetry
func (cb *ChatBot) Close() {
	if cb.ownsDB {
		if err := cb.db.Close(); err != nil {
			cb.logger.Error("failed to close database", "error", err)
		}
		cb.ownsDB = false
	}
	if cb.cleanup != nil {
		cb.cleanup()
		cb.cleanup = nil
	}
	if cb.stopScan != nil {
		close(cb.stopScan)
		cb.stopScan = nil
	}
}
