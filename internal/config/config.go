// Package config handles loading and validating the relayd configuration.
// Settings come from an optional relay.yaml overlaid with environment
// variables; secrets (encryption key, LLM keys) are environment-only.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level relayd configuration.
type Config struct {
	Port        string `yaml:"port" env:"PORT" env-default:"8001"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	StorageMode      string   `yaml:"storage_mode" env:"STORAGE_MODE" env-default:"s3"`
	LocalStoragePath string   `yaml:"local_storage_path" env:"LOCAL_STORAGE_PATH" env-default:"./relay_data"`
	S3               S3Config `yaml:"s3"`

	EncryptionKey string `yaml:"-" env:"ENCRYPTION_KEY"`
	RequireAuth   bool   `yaml:"require_auth" env:"REQUIRE_AUTH" env-default:"false"`

	LLMProvider     string `yaml:"llm_provider" env:"LLM_PROVIDER" env-default:"anthropic"`
	AnthropicAPIKey string `yaml:"-" env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `yaml:"-" env:"OPENAI_API_KEY"`

	CORSOrigins       []string      `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"*"`
	SchedulerInterval time.Duration `yaml:"scheduler_interval" env:"SCHEDULER_INTERVAL" env-default:"60s"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT" env-default:"30s"`
	QueryTimeout      time.Duration `yaml:"query_timeout" env:"QUERY_TIMEOUT" env-default:"15s"`
}

// S3Config holds object-store settings for STORAGE_MODE=s3.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKey string `yaml:"-" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"-" env:"S3_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"S3_BUCKET" env-default:"relay-data"`
	UseSSL    bool   `yaml:"use_ssl" env:"S3_USE_SSL" env-default:"false"`
}

// Load parses an optional yaml file, applies environment overrides, and
// validates the result. An empty path skips the file and uses env/defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolvePath finds the config file path.
// Priority: RELAY_CONFIG env var > ./relay.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("RELAY_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("relay.yaml"); err == nil {
		return "relay.yaml"
	}
	return ""
}

// LLMConfigured reports whether the selected provider has a key.
func (c *Config) LLMConfigured() bool {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey != ""
	default:
		return c.AnthropicAPIKey != ""
	}
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.StorageMode {
	case "s3":
		if c.S3.Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required when STORAGE_MODE=s3")
		}
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when STORAGE_MODE=s3")
		}
	case "local":
		if c.LocalStoragePath == "" {
			return fmt.Errorf("LOCAL_STORAGE_PATH is required when STORAGE_MODE=local")
		}
	default:
		return fmt.Errorf("STORAGE_MODE must be s3 or local, got %q", c.StorageMode)
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required; generate one with: openssl rand -base64 32")
	}
	key, err := base64.StdEncoding.DecodeString(c.EncryptionKey)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes, got %d; generate one with: openssl rand -base64 32", len(key))
	}
	switch c.LLMProvider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("LLM_PROVIDER must be anthropic or openai, got %q", c.LLMProvider)
	}
	if c.SchedulerInterval <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL must be positive")
	}
	return nil
}
