// Package config loads and validates the relay configuration file.
// Files may be YAML or JSON5, reference environment variables with the
// usual $VAR syntax, and pull in shared fragments via $include.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Workspace string         `yaml:"workspace"`
	Provider  ProviderConfig `yaml:"provider"`
	Agent     AgentConfig    `yaml:"agent"`
	Memory    MemoryConfig   `yaml:"memory"`
	Sessions  SessionsConfig `yaml:"sessions"`
	Cron      CronConfig     `yaml:"cron"`
	Channels  ChannelsConfig `yaml:"channels"`
	Logging   LoggingConfig  `yaml:"logging"`
}

// ProviderConfig selects and configures the LLM backend.
type ProviderConfig struct {
	Name       string    `yaml:"name"`
	APIKey     string    `yaml:"api_key"`
	BaseURL    string    `yaml:"base_url"`
	Model      string    `yaml:"model"`
	MaxRetries int       `yaml:"max_retries"`
	AWS        AWSConfig `yaml:"aws"`
}

// AWSConfig carries credentials for the bedrock backend. Empty fields fall
// back to the default AWS credential chain.
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// AgentConfig tunes the tool-calling executor.
type AgentConfig struct {
	MaxIterations     int     `yaml:"max_iterations"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	TruncateThreshold int     `yaml:"truncate_threshold"`
}

// MemoryConfig tunes consolidation. Window unset (or 0) means the default
// of 20 recent messages; a negative window disables summarization and falls
// back to hard history trimming.
type MemoryConfig struct {
	Window int    `yaml:"window"`
	Dir    string `yaml:"dir"`
}

// SessionsConfig locates persisted conversation transcripts.
type SessionsConfig struct {
	Dir string `yaml:"dir"`
}

// CronConfig locates the scheduled-job store.
type CronConfig struct {
	Path         string        `yaml:"path"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

// ChannelsConfig enables and configures the chat platform adapters.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Zulip    ZulipConfig    `yaml:"zulip"`
}

// TelegramConfig configures the Telegram bot adapter.
type TelegramConfig struct {
	Enabled   bool     `yaml:"enabled"`
	BotToken  string   `yaml:"bot_token"`
	AllowFrom []string `yaml:"allow_from"`
	Streaming bool     `yaml:"streaming"`
}

// SlackConfig configures the Slack socket-mode adapter.
type SlackConfig struct {
	Enabled   bool     `yaml:"enabled"`
	BotToken  string   `yaml:"bot_token"`
	AppToken  string   `yaml:"app_token"`
	AllowFrom []string `yaml:"allow_from"`
}

// WhatsAppConfig configures the WhatsApp adapter. StorePath is the sqlite
// database holding the pairing state.
type WhatsAppConfig struct {
	Enabled   bool     `yaml:"enabled"`
	StorePath string   `yaml:"store_path"`
	AllowFrom []string `yaml:"allow_from"`
}

// ZulipConfig configures the Zulip long-poll adapter.
type ZulipConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Site      string   `yaml:"site"`
	Email     string   `yaml:"email"`
	APIKey    string   `yaml:"api_key"`
	AllowFrom []string `yaml:"allow_from"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, merges, decodes, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Workspace == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Workspace = filepath.Join(home, ".relay")
		} else {
			c.Workspace = ".relay"
		}
	}
	if c.Provider.Name == "" {
		c.Provider.Name = "anthropic"
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 20
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Agent.TruncateThreshold == 0 {
		c.Agent.TruncateThreshold = 500
	}
	if c.Memory.Window == 0 {
		c.Memory.Window = 20
	}
	if c.Memory.Window < 0 {
		// Negative disables consolidation entirely; normalize to zero so the
		// rest of the code only deals with the disabled sentinel.
		c.Memory.Window = 0
	}
	if c.Memory.Dir == "" {
		c.Memory.Dir = filepath.Join(c.Workspace, "memory")
	}
	if c.Sessions.Dir == "" {
		c.Sessions.Dir = filepath.Join(c.Workspace, "sessions")
	}
	if c.Cron.Path == "" {
		c.Cron.Path = filepath.Join(c.Workspace, "cron", "jobs.json")
	}
	if c.Cron.TickInterval == 0 {
		c.Cron.TickInterval = time.Second
	}
	if c.Channels.WhatsApp.StorePath == "" {
		c.Channels.WhatsApp.StorePath = filepath.Join(c.Workspace, "whatsapp.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configurations that cannot possibly run.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "openai":
		if c.Provider.APIKey == "" {
			return fmt.Errorf("provider %s requires api_key", c.Provider.Name)
		}
	case "bedrock":
		// Credentials may come from the AWS default chain.
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}

	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent.max_iterations must not be negative")
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("telegram channel requires bot_token")
	}
	if c.Channels.Slack.Enabled {
		if c.Channels.Slack.BotToken == "" || c.Channels.Slack.AppToken == "" {
			return fmt.Errorf("slack channel requires bot_token and app_token")
		}
	}
	if c.Channels.Zulip.Enabled {
		if c.Channels.Zulip.Site == "" || c.Channels.Zulip.Email == "" || c.Channels.Zulip.APIKey == "" {
			return fmt.Errorf("zulip channel requires site, email, and api_key")
		}
	}
	return nil
}
