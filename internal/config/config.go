// Package config loads and validates gateway configuration.
//
// DESIGN: Configuration is layered: built-in defaults, then an optional YAML
// file, then environment variables (highest precedence). A .env file in the
// working directory is loaded into the environment first via godotenv, so
// local development matches production env-var configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	ToolHost  ToolHostConfig  `yaml:"tool_host"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	History   HistoryConfig   `yaml:"history"`
	Files     FilesConfig     `yaml:"files"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ModelConfig holds LLM provider settings.
type ModelConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Name          string `yaml:"name"`
	MaxToolRounds int    `yaml:"max_tool_rounds"`
}

// ToolHostConfig holds tool host connection settings.
type ToolHostConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RateLimitConfig holds token admission settings.
type RateLimitConfig struct {
	TokenLimit int           `yaml:"token_limit"` // Tokens per window. 0 rejects every nonzero request.
	Window     time.Duration `yaml:"window"`
}

// HistoryConfig holds chat history settings.
type HistoryConfig struct {
	DBPath      string `yaml:"db_path"`
	MemoryLimit int    `yaml:"memory_limit"` // Prior messages loaded per turn
}

// FilesConfig holds upload store settings.
type FilesConfig struct {
	DBPath      string `yaml:"db_path"`
	MaxFileSize int64  `yaml:"max_file_size"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	UsageLogPath string `yaml:"usage_log_path"` // JSONL mirror of usage rows; empty disables
}

// Default returns a config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         DefaultListenAddr,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultServerWriteTimeout,
		},
		Model: ModelConfig{
			BaseURL:       "https://api.openai.com",
			Name:          DefaultModel,
			MaxToolRounds: DefaultMaxToolRounds,
		},
		ToolHost: ToolHostConfig{
			Timeout: DefaultToolHostTimeout,
		},
		RateLimit: RateLimitConfig{
			TokenLimit: DefaultTokenLimitPerWindow,
			Window:     DefaultUsageWindow,
		},
		History: HistoryConfig{
			DBPath:      "rbchat.db",
			MemoryLimit: DefaultMemoryLimit,
		},
		Files: FilesConfig{
			DBPath:      "rbchat-files.db",
			MaxFileSize: DefaultMaxFileSize,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional YAML file and the environment.
// A missing file is not an error; env vars still apply.
func Load(path string) (*Config, error) {
	// Best effort: absent .env is fine
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromBytes parses configuration from raw YAML, then applies env overrides.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Model.BaseURL = v
	}
	if v := os.Getenv("RBCHAT_MODEL"); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv("TOOL_HOST_URL"); v != "" {
		c.ToolHost.BaseURL = v
	}
	if v := os.Getenv("RBCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RBCHAT_DB_PATH"); v != "" {
		c.History.DBPath = v
	}
	if v := os.Getenv("RBCHAT_TOKEN_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.TokenLimit = n
		}
	}
	if v := os.Getenv("RBCHAT_MEMORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.History.MemoryLimit = n
		}
	}
	if v := os.Getenv("RBCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.RateLimit.TokenLimit < 0 {
		return fmt.Errorf("rate_limit.token_limit must be >= 0, got %d", c.RateLimit.TokenLimit)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be > 0, got %s", c.RateLimit.Window)
	}
	if c.History.MemoryLimit < 0 {
		return fmt.Errorf("history.memory_limit must be >= 0, got %d", c.History.MemoryLimit)
	}
	if c.Files.MaxFileSize <= 0 {
		return fmt.Errorf("files.max_file_size must be > 0, got %d", c.Files.MaxFileSize)
	}
	if c.Model.MaxToolRounds <= 0 {
		return fmt.Errorf("model.max_tool_rounds must be > 0, got %d", c.Model.MaxToolRounds)
	}
	return nil
}
