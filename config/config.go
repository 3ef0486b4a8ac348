package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	ServerName string        `mapstructure:"server_name"`
	Version    string        `mapstructure:"version"`
	Server     ServerConfig  `mapstructure:"server"`
	LLM        LLMConfig     `mapstructure:"llm"`
	Context    ContextConfig `mapstructure:"context"`
	Relay      RelayConfig   `mapstructure:"relay"`
	Store      StoreConfig   `mapstructure:"store"`
	Redis      RedisConfig   `mapstructure:"redis"`
	DBOS       DBOSConfig    `mapstructure:"dbos"`
	Gateway    GatewayConfig `mapstructure:"gateway"`
	// TurnPolicy is "reject" (answer Busy) or "queue" (wait for the running turn).
	TurnPolicy string `mapstructure:"turn_policy"`

	// Secrets come from the environment only.
	AnthropicAPIKey string `mapstructure:"-"`
	OpenAIAPIKey    string `mapstructure:"-"`
	DatabaseURL     string `mapstructure:"-"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	CORSOrigins  []string `mapstructure:"cors_origins"`
	RateLimitQPS int      `mapstructure:"rate_limit_qps"`
}

type LLMConfig struct {
	Provider           string  `mapstructure:"provider"`
	Model              string  `mapstructure:"model"`
	FallbackModel      string  `mapstructure:"fallback_model"`
	OpenAIBaseURL      string  `mapstructure:"openai_base_url"`
	MaxTokens          int     `mapstructure:"max_tokens"`
	Temperature        float64 `mapstructure:"temperature"`
	SummaryTemperature float64 `mapstructure:"summary_temperature"`
	// DummyScript drives the scripted provider used for local runs and tests.
	DummyScript string `mapstructure:"dummy_script"`
}

type ContextConfig struct {
	RetainedTailSize     int           `mapstructure:"retained_tail_size"`
	SummarizationTrigger int           `mapstructure:"summarization_trigger"`
	SummaryMaxLength     int           `mapstructure:"summary_max_length"`
	SummaryTimeout       time.Duration `mapstructure:"summary_timeout"`
}

type RelayConfig struct {
	ChunkSize  int           `mapstructure:"chunk_size"`
	BufferSize int           `mapstructure:"buffer_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	Driver     string        `mapstructure:"driver"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	BoltPath   string        `mapstructure:"bolt_path"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type DBOSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	AppName string `mapstructure:"app_name"`
}

type GatewayConfig struct {
	UpstreamURL string `mapstructure:"upstream_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_name", "DevDocs AI API")
	v.SetDefault("version", "1.0.0")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:3001"})
	v.SetDefault("server.rate_limit_qps", 0)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.fallback_model", "gpt-4")
	v.SetDefault("llm.openai_base_url", "https://api.openai.com")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.summary_temperature", 0.3)
	v.SetDefault("llm.dummy_script", "ok")

	v.SetDefault("context.retained_tail_size", 20)
	v.SetDefault("context.summarization_trigger", 20)
	v.SetDefault("context.summary_max_length", 500)
	v.SetDefault("context.summary_timeout", 60*time.Second)

	v.SetDefault("relay.chunk_size", 20)
	v.SetDefault("relay.buffer_size", 16)
	v.SetDefault("relay.timeout", 120*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.sqlite_path", "devdocs.db")
	v.SetDefault("store.bolt_path", "data/devdocs.bolt")
	v.SetDefault("store.ttl", 24*time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", 5*time.Minute)

	v.SetDefault("dbos.enabled", false)
	v.SetDefault("dbos.app_name", "devdocs-chat")

	v.SetDefault("gateway.upstream_url", "")
	v.SetDefault("turn_policy", "reject")
}

// LoadConfig reads config/config.yml (or $CONFIG_FILE) when present, applies
// environment overrides and validates the result.
func LoadConfig() (*AppConfig, error) {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config/config.yml"
	}
	return Load(path)
}

// Load reads configuration from path. A missing file is not an error; every
// option has a default.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.AnthropicAPIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option ranges and cross-option requirements
func (c *AppConfig) Validate() error {
	if c.Context.RetainedTailSize <= 0 {
		return fmt.Errorf("context.retained_tail_size must be positive, got %d", c.Context.RetainedTailSize)
	}
	if c.Context.SummarizationTrigger < c.Context.RetainedTailSize {
		return fmt.Errorf("context.summarization_trigger (%d) must be >= context.retained_tail_size (%d)",
			c.Context.SummarizationTrigger, c.Context.RetainedTailSize)
	}
	if c.Relay.ChunkSize <= 0 {
		return fmt.Errorf("relay.chunk_size must be positive, got %d", c.Relay.ChunkSize)
	}
	if c.Relay.BufferSize <= 0 {
		return fmt.Errorf("relay.buffer_size must be positive, got %d", c.Relay.BufferSize)
	}
	switch c.TurnPolicy {
	case "reject", "queue":
	default:
		return fmt.Errorf("turn_policy must be reject or queue, got %q", c.TurnPolicy)
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "bolt", "redis":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required when store.driver=postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.DBOS.Enabled && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required when dbos.enabled=true")
	}
	switch c.LLM.Provider {
	case "anthropic":
		if len(c.AnthropicAPIKey) < 20 {
			return fmt.Errorf("ANTHROPIC_API_KEY is missing or too short (length %d)", len(c.AnthropicAPIKey))
		}
	case "openai", "dummy":
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	return nil
}

// FallbackEnabled reports whether an OpenAI key usable for fallback is set.
// Placeholder keys copied from .env templates ("your_...") do not count.
func (c *AppConfig) FallbackEnabled() bool {
	return c.OpenAIAPIKey != "" && !strings.HasPrefix(c.OpenAIAPIKey, "your_")
}
