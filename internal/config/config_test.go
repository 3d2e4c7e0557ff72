package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ElicitChat/internal/dialogue"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestResolveDetectsBackendFromCredentials(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		backend string
		model   string
	}{
		{"none", nil, BackendOllama, "llama3:latest"},
		{"dashscope wins", map[string]string{"DASHSCOPE_API_KEY": "d", "OPENAI_API_KEY": "o"}, BackendDashScope, "qwen1.5-0.5b-chat"},
		{"anthropic", map[string]string{"ANTHROPIC_API_KEY": "a", "OPENAI_API_KEY": "o"}, BackendAnthropic, "claude-sonnet-4-20250514"},
		{"openai", map[string]string{"OPENAI_API_KEY": "o"}, BackendOpenAI, "gpt-4-turbo-preview"},
		{"grok", map[string]string{"GROK_API_KEY": "g"}, BackendGrok, "grok-1"},
		{"empty key ignored", map[string]string{"OPENAI_API_KEY": ""}, BackendOllama, "llama3:latest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Resolve(env(tt.vars)))
			assert.Equal(t, tt.backend, cfg.Backend)
			assert.Equal(t, tt.model, cfg.Model)
			assert.NotEmpty(t, cfg.BaseURL)
		})
	}
}

func TestResolveExplicitBackendWins(t *testing.T) {
	cfg := Default()
	cfg.Backend = "OpenAI"
	cfg.Model = "gpt-4o"
	require.NoError(t, cfg.Resolve(env(map[string]string{"OPENAI_API_KEY": "k", "DASHSCOPE_API_KEY": "d"})))
	assert.Equal(t, BackendOpenAI, cfg.Backend)
	assert.Equal(t, "k", cfg.APIKey)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "https://api.openai.com/v1", cfg.BaseURL)
}

func TestResolveMissingKey(t *testing.T) {
	cfg := Default()
	cfg.Backend = BackendAnthropic
	err := cfg.Resolve(env(nil))
	assert.EqualError(t, err, "ANTHROPIC_API_KEY not set")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Resolve(env(nil)))

	bad := cfg
	bad.Backend = "bard"
	assert.ErrorContains(t, bad.Validate(), "unknown backend")

	bad = cfg
	bad.Mode = "eager"
	assert.ErrorContains(t, bad.Validate(), "unknown mode")

	bad = cfg
	bad.DBPath = ""
	assert.Error(t, bad.Validate())
}

func TestWithBackend(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Resolve(env(nil)))

	next, err := cfg.WithBackend(BackendGrok, env(map[string]string{"GROK_API_KEY": "g"}))
	require.NoError(t, err)
	assert.Equal(t, BackendGrok, next.Backend)
	assert.Equal(t, "grok-1", next.Model)
	assert.Equal(t, BackendOllama, cfg.Backend)

	_, err = cfg.WithBackend(BackendGrok, env(nil))
	assert.Error(t, err)
}

func TestDialogueMode(t *testing.T) {
	cfg := Default()
	assert.Equal(t, dialogue.Batch, cfg.DialogueMode())
	cfg.Mode = "interactive"
	assert.Equal(t, dialogue.Interactive, cfg.DialogueMode())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elicitchat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend = "anthropic"
mode = "batch"
language = "French"
timeout = "30s"
cache = false
max_tokens = 512
`), 0o644))

	cfg := Default()
	require.NoError(t, cfg.LoadFile(path))
	assert.Equal(t, BackendAnthropic, cfg.Backend)
	assert.Equal(t, "batch", cfg.Mode)
	assert.Equal(t, "French", cfg.Language)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.False(t, cfg.CacheEnabled)
	assert.Equal(t, 512, cfg.MaxTokens)
	assert.Equal(t, "elicitchat.db", cfg.DBPath)
}

func TestLoadFileMissingIsIgnored(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.LoadFile(filepath.Join(t.TempDir(), "absent.toml")))
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elicitchat.toml")
	require.NoError(t, os.WriteFile(path, []byte("api_key = \"leak\"\n"), 0o644))

	cfg := Default()
	assert.ErrorContains(t, cfg.LoadFile(path), "api_key")
}
