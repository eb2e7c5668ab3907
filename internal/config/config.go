// Package config loads and validates the Leadline process configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath       = "config.toml"
	DefaultHTTPAddr         = ":8080"
	DefaultPGHost           = "127.0.0.1"
	DefaultPGPort           = 5432
	DefaultPGUser           = "postgres"
	DefaultPGDatabase       = "leadline"
	DefaultPGSSLMode        = "disable"
	DefaultLLMBaseURL       = "https://api.openai.com/v1"
	DefaultLLMModel         = "gpt-4o-mini"
	DefaultGraphBaseURL     = "https://graph.facebook.com/v21.0"
	DefaultContextWindow    = 10
	DefaultPipelineWorkers  = 4
	DefaultPipelineQueue    = 256
	DefaultFallbackReply    = "Sorry, I am temporarily unavailable. Please try again in a moment."
	DefaultLockPruneSpec    = "@every 10m"
	DefaultWebhookTimeout   = 5 * time.Second
	DefaultLLMTimeout       = 30 * time.Second
	DefaultExtractorTimeout = 10 * time.Second
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	LLM      LLMConfig      `toml:"llm"`
	Lead     LeadConfig     `toml:"lead"`
	Webhook  WebhookConfig  `toml:"webhook"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Channels ChannelsConfig `toml:"channels"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// LLMConfig selects and tunes the generative text provider. Provider choice
// is process configuration, never per-message business logic.
type LLMConfig struct {
	Provider       string  `toml:"provider" validate:"omitempty,oneof=openai-compat"`
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url" validate:"omitempty,url"`
	Model          string  `toml:"model"`
	Temperature    float32 `toml:"temperature" validate:"gte=0,lte=2"`
	TimeoutSeconds int     `toml:"timeout_seconds" validate:"gte=0"`
	MaxRetries     int     `toml:"max_retries" validate:"gte=0,lte=5"`
}

// Timeout returns the bounded request deadline for one provider call.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultLLMTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type LeadConfig struct {
	// UseLLM enables the LLM extraction fallback when the regex pass finds
	// no contact details.
	UseLLM         bool `toml:"use_llm"`
	TimeoutSeconds int  `toml:"timeout_seconds" validate:"gte=0"`
}

func (c LeadConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultExtractorTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type WebhookConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds" validate:"gte=0,lte=30"`
}

func (c WebhookConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultWebhookTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type PipelineConfig struct {
	// ContextWindow is the number of recent chat-log entries handed to the
	// generative provider.
	ContextWindow int `toml:"context_window" validate:"gte=0,lte=100"`
	// Workers and QueueSize bound the async side-effect dispatcher.
	Workers   int `toml:"workers" validate:"gte=0,lte=64"`
	QueueSize int `toml:"queue_size" validate:"gte=0"`
	// FallbackReply is the guaranteed last-resort reply when the AI stage
	// fails for a message.
	FallbackReply string `toml:"fallback_reply"`
	// LockPruneSpec is the cron spec for idle conversation-lock pruning.
	LockPruneSpec string `toml:"lock_prune_spec"`
}

type ChannelsConfig struct {
	// GraphBaseURL overrides the Meta Graph API endpoint, mainly for tests.
	GraphBaseURL string `toml:"graph_base_url" validate:"omitempty,url"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		LLM: LLMConfig{
			Provider:    "openai-compat",
			BaseURL:     DefaultLLMBaseURL,
			Model:       DefaultLLMModel,
			Temperature: 0.3,
			MaxRetries:  2,
		},
		Pipeline: PipelineConfig{
			ContextWindow: DefaultContextWindow,
			Workers:       DefaultPipelineWorkers,
			QueueSize:     DefaultPipelineQueue,
			FallbackReply: DefaultFallbackReply,
			LockPruneSpec: DefaultLockPruneSpec,
		},
		Channels: ChannelsConfig{
			GraphBaseURL: DefaultGraphBaseURL,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate checks field constraints declared on the config structs.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
