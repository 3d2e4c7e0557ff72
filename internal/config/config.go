package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"ElicitChat/internal/dialogue"
)

const (
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOpenAI    = "openai"
	BackendDashScope = "dashscope"
)

// Backends lists every supported backend name
var Backends = []string{BackendOllama, BackendAnthropic, BackendGrok, BackendOpenAI, BackendDashScope}

// detectOrder is the credential lookup used when no backend is requested
var detectOrder = []string{BackendDashScope, BackendAnthropic, BackendOpenAI, BackendGrok}

var apiKeyEnv = map[string]string{
	BackendAnthropic: "ANTHROPIC_API_KEY",
	BackendGrok:      "GROK_API_KEY",
	BackendOpenAI:    "OPENAI_API_KEY",
	BackendDashScope: "DASHSCOPE_API_KEY",
}

var defaultModels = map[string]string{
	BackendAnthropic: "claude-sonnet-4-20250514",
	BackendGrok:      "grok-1",
	BackendOpenAI:    "gpt-4-turbo-preview",
	BackendDashScope: "qwen1.5-0.5b-chat",
}

var defaultURLs = map[string]string{
	BackendOllama:    "http://localhost:11434",
	BackendAnthropic: "https://api.anthropic.com",
	BackendGrok:      "https://api.grok.x.ai/v1",
	BackendOpenAI:    "https://api.openai.com/v1",
	BackendDashScope: "https://dashscope.aliyuncs.com/compatible-mode/v1",
}

// Config holds application configuration
type Config struct {
	Backend     string // empty means detect from the environment
	Model       string // overrides the backend default
	BaseURL     string // overrides the backend endpoint
	APIKey      string // resolved from the backend's environment variable
	OllamaModel string // Model specification in format "model:version" (e.g., "llama3:latest")

	Mode      string // "interactive" or "batch"
	StoryID   string
	SessionID string
	Language  string // reply language appended to the prompt

	Debug   bool
	DBPath  string
	LogDir  string
	Timeout time.Duration

	CacheEnabled bool
	CacheTTL     time.Duration
	MaxTokens    int
}

// Default returns the configuration used before flags are applied
func Default() Config {
	return Config{
		OllamaModel:  "llama3:latest",
		Mode:         dialogue.Batch.String(),
		DBPath:       "elicitchat.db",
		LogDir:       "logs",
		Timeout:      5 * time.Minute,
		CacheEnabled: true,
		CacheTTL:     time.Hour,
		MaxTokens:    2048,
	}
}

// Resolve settles the backend, its credential and model once at startup.
// lookup is normally os.LookupEnv.
func (c *Config) Resolve(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if c.Backend == "" {
		c.Backend = BackendOllama
		for _, name := range detectOrder {
			if v, ok := lookup(apiKeyEnv[name]); ok && v != "" {
				c.Backend = name
				break
			}
		}
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))

	if env, ok := apiKeyEnv[c.Backend]; ok {
		if v, ok := lookup(env); ok {
			c.APIKey = v
		}
	}

	if c.Model == "" {
		if c.Backend == BackendOllama {
			c.Model = c.OllamaModel
		} else {
			c.Model = defaultModels[c.Backend]
		}
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultURLs[c.Backend]
	}

	return c.Validate()
}

// Validate checks the resolved configuration
func (c *Config) Validate() error {
	if !IsBackend(c.Backend) {
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	if env, ok := apiKeyEnv[c.Backend]; ok && c.APIKey == "" {
		return fmt.Errorf("%s not set", env)
	}
	if _, err := dialogue.ParseMode(c.Mode); err != nil {
		return err
	}
	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be > 0")
	}
	return nil
}

// DialogueMode returns the parsed default mode
func (c *Config) DialogueMode() dialogue.Mode {
	m, err := dialogue.ParseMode(c.Mode)
	if err != nil {
		return dialogue.Batch
	}
	return m
}

// WithBackend returns a copy switched to another backend, re-resolving
// model, endpoint and credential.
func (c Config) WithBackend(name string, lookup func(string) (string, bool)) (Config, error) {
	next := c
	next.Backend = name
	next.APIKey = ""
	next.BaseURL = ""
	next.Model = ""
	if err := next.Resolve(lookup); err != nil {
		return c, err
	}
	return next, nil
}

// fileConfig mirrors the settings accepted in a TOML config file
type fileConfig struct {
	Backend     string `toml:"backend"`
	Model       string `toml:"model"`
	BaseURL     string `toml:"base_url"`
	OllamaModel string `toml:"ollama_model"`
	Mode        string `toml:"mode"`
	StoryID     string `toml:"story_id"`
	Language    string `toml:"language"`
	DBPath      string `toml:"db_path"`
	LogDir      string `toml:"log_dir"`
	Timeout     string `toml:"timeout"`
	Cache       *bool  `toml:"cache"`
	CacheTTL    string `toml:"cache_ttl"`
	MaxTokens   int    `toml:"max_tokens"`
}

// LoadFile overlays settings from a TOML file. A missing file is not an
// error. API keys are never read from the file.
func (c *Config) LoadFile(path string) error {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), path)
	}

	setString(&c.Backend, fc.Backend)
	setString(&c.Model, fc.Model)
	setString(&c.BaseURL, fc.BaseURL)
	setString(&c.OllamaModel, fc.OllamaModel)
	setString(&c.Mode, fc.Mode)
	setString(&c.StoryID, fc.StoryID)
	setString(&c.Language, fc.Language)
	setString(&c.DBPath, fc.DBPath)
	setString(&c.LogDir, fc.LogDir)
	if fc.Timeout != "" {
		if c.Timeout, err = time.ParseDuration(fc.Timeout); err != nil {
			return fmt.Errorf("invalid timeout: %w", err)
		}
	}
	if fc.Cache != nil {
		c.CacheEnabled = *fc.Cache
	}
	if fc.CacheTTL != "" {
		if c.CacheTTL, err = time.ParseDuration(fc.CacheTTL); err != nil {
			return fmt.Errorf("invalid cache_ttl: %w", err)
		}
	}
	if fc.MaxTokens > 0 {
		c.MaxTokens = fc.MaxTokens
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// DefaultBaseURL returns the built-in endpoint for a backend
func DefaultBaseURL(name string) string {
	return defaultURLs[name]
}

// IsBackend reports whether name is a supported backend
func IsBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}
