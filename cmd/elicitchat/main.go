package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"ElicitChat/internal/chatbot"
	"ElicitChat/internal/config"
)

func main() {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	cfg := config.Default()
	configPath := os.Getenv("ELICITCHAT_CONFIG")
	if configPath == "" {
		configPath = "elicitchat.toml"
	}
	if err := cfg.LoadFile(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, fmt.Sprintf("LLM backend (%s); detected from API keys when empty", strings.Join(config.Backends, "|")))
	flag.StringVar(&cfg.Model, "model", cfg.Model, "Model name, overrides the backend default")
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "API endpoint, overrides the backend default")
	flag.StringVar(&cfg.OllamaModel, "ollama-model", cfg.OllamaModel, "Ollama model specification (format: model:version)")
	flag.StringVar(&cfg.Mode, "mode", cfg.Mode, "Dialogue mode (interactive|batch)")
	flag.StringVar(&cfg.StoryID, "story-id", cfg.StoryID, "Select a user story by ID")
	flag.StringVar(&cfg.SessionID, "session-id", cfg.SessionID, "Load existing session by ID")
	flag.StringVar(&cfg.Language, "language", cfg.Language, "Language the assistant should reply in")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for logs, traces and metrics")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP timeout for model requests")
	flag.BoolVar(&cfg.CacheEnabled, "cache", cfg.CacheEnabled, "Replay identical prompts from the response cache")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Response cache entry lifetime")
	flag.IntVar(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, "Maximum tokens per reply")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")

	flag.Parse()

	if err := cfg.Resolve(os.LookupEnv); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot, err := chatbot.NewChatBot(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize chatbot: %v\n", err)
		os.Exit(1)
	}

	if err := bot.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
