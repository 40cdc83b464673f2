package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderGrok      = "grok"
	ProviderOpenAI    = "openai"
)

// Config holds application configuration
type Config struct {
	Server   ServerConfig      `toml:"server"`
	Provider ProviderConfig    `toml:"provider"`
	Store    StoreConfig       `toml:"store"`
	Ledger   LedgerConfig      `toml:"ledger"`
	Cache    CacheConfig       `toml:"cache"`
	Ingest   IngestConfig      `toml:"ingest"`
	Assists  []AssistantConfig `toml:"assistant"`
	Debug    bool              `toml:"debug"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// ProviderConfig configures the upstream model provider
type ProviderConfig struct {
	Backend string   `toml:"backend"` // ollama|anthropic|grok|openai
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"` // usually left empty and taken from env
	Timeout duration `toml:"timeout"`
}

// StoreConfig selects the conversation store backend
type StoreConfig struct {
	Backend string `toml:"backend"` // memory|sqlite
	Path    string `toml:"path"`    // sqlite file path
}

// LedgerConfig selects the usage ledger backend
type LedgerConfig struct {
	Backend     string `toml:"backend"` // memory|postgres
	PostgresURL string `toml:"postgres_url"`
}

// CacheConfig selects the provider response cache backend
type CacheConfig struct {
	Backend  string `toml:"backend"` // memory|redis
	RedisURL string `toml:"redis_url"`
}

// IngestConfig bounds uploaded-file excerpts
type IngestConfig struct {
	MaxExcerptChars int `toml:"max_excerpt_chars"`
}

// AssistantConfig describes one preconfigured assistant persona
type AssistantConfig struct {
	ID           string `toml:"id"`
	DisplayName  string `toml:"display_name"`
	ModelID      string `toml:"model_id"`
	SystemPrompt string `toml:"system_prompt"`
	AcceptsFiles bool   `toml:"accepts_files"`
}

// duration lets TOML carry values like "60s"
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Load reads configuration from a TOML file and applies defaults.
// The provider API key is overridden from the environment when the
// matching variable is set, so credentials stay out of the file.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Provider: ProviderConfig{Backend: ProviderOpenAI, Timeout: duration{60 * time.Second}},
		Store:    StoreConfig{Backend: "memory", Path: "vetassist.db"},
		Ledger:   LedgerConfig{Backend: "memory"},
		Cache:    CacheConfig{Backend: "memory"},
		Ingest:   IngestConfig{MaxExcerptChars: 4000},
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}

	if key := os.Getenv(apiKeyEnv(cfg.Provider.Backend)); key != "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("DATABASE_URL"); url != "" && cfg.Ledger.PostgresURL == "" {
		cfg.Ledger.PostgresURL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" && cfg.Cache.RedisURL == "" {
		cfg.Cache.RedisURL = url
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProviderTimeout returns the bounded wait applied to upstream calls.
func (c *Config) ProviderTimeout() time.Duration {
	return c.Provider.Timeout.Duration
}

func (c *Config) validate() error {
	switch c.Provider.Backend {
	case ProviderOllama, ProviderAnthropic, ProviderGrok, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider backend: %s", c.Provider.Backend)
	}
	if len(c.Assists) == 0 {
		return fmt.Errorf("no assistants configured")
	}
	seen := make(map[string]bool, len(c.Assists))
	for _, a := range c.Assists {
		if a.ID == "" || a.ModelID == "" {
			return fmt.Errorf("assistant %q: id and model_id are required", a.ID)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate assistant id: %s", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

func apiKeyEnv(backend string) string {
	switch backend {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderGrok:
		return "GROK_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}
