// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and watches the wolfchat configuration file.
//
// Precedence, lowest to highest: built-in defaults, ~/.wolfchat/config.toml,
// WOLFCHAT_* environment variables. API keys configured here act as
// fallbacks for keys never saved through the settings UI.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/wolfchat/internal/util"
)

// ===== TYPES =====

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Data      DataConfig      `toml:"data"`
	Providers ProvidersConfig `toml:"providers"`
	Keys      KeysConfig      `toml:"keys"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// DataConfig locates the data directory (database, log file, exports).
type DataConfig struct {
	Dir string `toml:"dir"`
}

// ProvidersConfig overrides provider endpoints, mainly for self-hosted
// gateways and tests. Referer is the HTTP-Referer sent to OpenRouter.
type ProvidersConfig struct {
	OpenRouterURL string `toml:"openrouter_url"`
	GroqURL       string `toml:"groq_url"`
	GeminiBaseURL string `toml:"gemini_base_url"`
	Referer       string `toml:"referer"`
}

// KeysConfig holds API-key fallbacks for keys not present in settings.
type KeysConfig struct {
	OpenRouter string `toml:"openrouter"`
	Groq       string `toml:"groq"`
	Gemini     string `toml:"gemini"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// ===== DEFAULTS =====

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".wolfchat")
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8788,
		},
		Data: DataConfig{
			Dir: dataDir,
		},
		Providers: ProvidersConfig{
			Referer: "http://localhost:8788",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".wolfchat", "config.toml")
}

// DatabasePath returns the SQLite file under the data dir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.Dir, "wolfchat.db")
}

// LogFilePath returns the JSON log file path, defaulting under the data dir.
func (c *Config) LogFilePath() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.Data.Dir, "wolfchat.log")
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ===== LOAD / SAVE =====

// Load builds the effective config: defaults, then the TOML file at path
// (DefaultPath when empty; a missing file is fine), then env overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WOLFCHAT_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("WOLFCHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("WOLFCHAT_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("WOLFCHAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("WOLFCHAT_OPENROUTER_API_KEY"); v != "" {
		cfg.Keys.OpenRouter = v
	}
	if v := os.Getenv("WOLFCHAT_GROQ_API_KEY"); v != "" {
		cfg.Keys.Groq = v
	}
	if v := os.Getenv("WOLFCHAT_GEMINI_API_KEY"); v != "" {
		cfg.Keys.Gemini = v
	}
}

// Validate checks invariants worth failing startup over.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return nil
}

// Save writes the config to path atomically.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}
