package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "sk-ant-REDACTED"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", testKey)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Context.RetainedTailSize)
	assert.Equal(t, 20, cfg.Context.SummarizationTrigger)
	assert.Equal(t, 500, cfg.Context.SummaryMaxLength)
	assert.Equal(t, 60*time.Second, cfg.Context.SummaryTimeout)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-9)
	assert.InDelta(t, 0.3, cfg.LLM.SummaryTemperature, 1e-9)
	assert.Equal(t, 20, cfg.Relay.ChunkSize)
	assert.Equal(t, 120*time.Second, cfg.Relay.Timeout)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "reject", cfg.TurnPolicy)
	assert.Equal(t, testKey, cfg.AnthropicAPIKey)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", testKey)
	t.Setenv("RELAY_CHUNK_SIZE", "7")

	path := filepath.Join(t.TempDir(), "config.yml")
	yml := `
server:
  port: 9090
context:
  retained_tail_size: 10
  summarization_trigger: 12
relay:
  chunk_size: 30
turn_policy: queue
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Context.RetainedTailSize)
	assert.Equal(t, 12, cfg.Context.SummarizationTrigger)
	assert.Equal(t, 7, cfg.Relay.ChunkSize, "environment wins over file")
	assert.Equal(t, "queue", cfg.TurnPolicy)
}

func TestValidate(t *testing.T) {
	base := func() *AppConfig {
		return &AppConfig{
			LLM:             LLMConfig{Provider: "anthropic"},
			Context:         ContextConfig{RetainedTailSize: 20, SummarizationTrigger: 20},
			Relay:           RelayConfig{ChunkSize: 20, BufferSize: 16},
			Store:           StoreConfig{Driver: "memory"},
			TurnPolicy:      "reject",
			AnthropicAPIKey: testKey,
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(c *AppConfig)
	}{
		{"short api key", func(c *AppConfig) { c.AnthropicAPIKey = "short" }},
		{"trigger below tail", func(c *AppConfig) { c.Context.SummarizationTrigger = 5 }},
		{"zero chunk", func(c *AppConfig) { c.Relay.ChunkSize = 0 }},
		{"bad policy", func(c *AppConfig) { c.TurnPolicy = "drop" }},
		{"postgres without url", func(c *AppConfig) { c.Store.Driver = "postgres" }},
		{"dbos without url", func(c *AppConfig) { c.DBOS.Enabled = true }},
		{"unknown provider", func(c *AppConfig) { c.LLM.Provider = "cohere" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidateDummyProviderNeedsNoKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("LLM_PROVIDER", "dummy")
	t.Setenv("LLM_DUMMY_SCRIPT", "msg:a|b")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, "dummy", cfg.LLM.Provider)
	assert.Equal(t, "msg:a|b", cfg.LLM.DummyScript)
}

func TestFallbackEnabled(t *testing.T) {
	c := &AppConfig{}
	assert.False(t, c.FallbackEnabled())
	c.OpenAIAPIKey = "your_openai_key_here"
	assert.False(t, c.FallbackEnabled())
	c.OpenAIAPIKey = "sk-real"
	assert.True(t, c.FallbackEnabled())
}
