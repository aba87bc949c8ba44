// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-frostsigner.
//
// go-frostsigner is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the signer daemon's YAML configuration.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-frostsigner/pkg/batch"
	"github.com/jeremyhahn/go-frostsigner/pkg/wallet"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FROSTSIGNER_"

// Config represents the complete daemon configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	TLS       TLSConfig       `yaml:"tls"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Storage   StorageConfig   `yaml:"storage"`
	Backend   BackendConfig   `yaml:"backend"`
	Batch     batch.Config    `yaml:"batch"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Prompt    PromptConfig    `yaml:"prompt"`
}

// ServerConfig contains server-level settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedOrigins lists the web origins that may call the request
	// endpoint from a browser. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig controls authentication of the prompt and policy endpoints
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // noop, apikey, jwt, chain

	// APIKeys maps a key to the subject it authenticates as.
	APIKeys map[string]string `yaml:"api_keys,omitempty"`

	JWT *JWTConfig `yaml:"jwt,omitempty"`
}

// JWTConfig controls HS256 token authentication
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Issuer string        `yaml:"issuer"`
	TTL    time.Duration `yaml:"ttl"`
}

// RateLimitConfig controls per-host rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min"`
	Burst          int  `yaml:"burst"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StorageConfig selects where policies and settings live
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, file, badger, redis
	Path    string `yaml:"path"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains redis storage settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// BackendConfig selects the signing backend
type BackendConfig struct {
	Type string `yaml:"type"` // remote, local, none

	Remote RemoteConfig `yaml:"remote"`
	Local  LocalConfig  `yaml:"local"`
}

// RemoteConfig contains websocket signing node settings
type RemoteConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	GroupPublicKey string        `yaml:"group_public_key"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

// LocalConfig contains single-key development backend settings
type LocalConfig struct {
	// SecretKey is hex. When empty a key is generated and kept in storage.
	SecretKey string `yaml:"secret_key"`
}

// WalletConfig contains Bitcoin wallet settings
type WalletConfig struct {
	Network    string        `yaml:"network"`
	EsploraURL string        `yaml:"esplora_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// PromptConfig controls the approval prompt
type PromptConfig struct {
	// Timeout rejects a prompt nobody answers. Zero waits forever.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns a configuration that runs a local development signer with
// in-memory storage.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7777,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Auth:    AuthConfig{Type: "noop"},
		RateLimit: RateLimitConfig{
			RequestsPerMin: 600,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Storage: StorageConfig{Backend: "memory"},
		Backend: BackendConfig{
			Type:   "local",
			Remote: RemoteConfig{DialTimeout: 10 * time.Second},
		},
		Batch: batch.Config{Window: batch.DefaultWindow, Timeout: 30 * time.Second},
		Wallet: WalletConfig{
			Network: "mainnet",
			Timeout: 15 * time.Second,
		},
		Prompt: PromptConfig{Timeout: 5 * time.Minute},
	}
}

// Load reads configuration from a YAML file on top of Default and applies
// environment variable overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - Config file path is provided by admin/user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := env("HOST"); host != "" {
		cfg.Server.Host = host
	}
	if raw := env("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port < 1 || port > 65535 {
			log.Printf("Warning: invalid %sPORT value %q, using %d", EnvPrefix, raw, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	if level := env("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := env("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if backend := env("STORAGE"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if dataDir := env("DATA_DIR"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}
	if addr := env("REDIS_ADDR"); addr != "" {
		cfg.Storage.Redis.Addr = addr
	}
	if password := env("REDIS_PASSWORD"); password != "" {
		cfg.Storage.Redis.Password = password
	}

	if typ := env("BACKEND"); typ != "" {
		cfg.Backend.Type = typ
	}
	if url := env("NODE_URL"); url != "" {
		cfg.Backend.Remote.URL = url
	}
	if token := env("NODE_TOKEN"); token != "" {
		cfg.Backend.Remote.Token = token
	}
	if secret := env("SECRET_KEY"); secret != "" {
		cfg.Backend.Local.SecretKey = secret
	}

	if secret := env("JWT_SECRET"); secret != "" {
		if cfg.Auth.JWT == nil {
			cfg.Auth.JWT = &JWTConfig{}
		}
		cfg.Auth.JWT.Secret = secret
	}

	if network := env("NETWORK"); network != "" {
		cfg.Wallet.Network = network
	}
	if esplora := env("ESPLORA_URL"); esplora != "" {
		cfg.Wallet.EsploraURL = esplora
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("ratelimit requests_per_min must be positive when enabled")
	}

	switch c.Storage.Backend {
	case "memory":
	case "file", "badger":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified for %s storage", c.Storage.Backend)
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage redis.addr must be specified for redis storage")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	switch c.Backend.Type {
	case "none", "local":
	case "remote":
		if c.Backend.Remote.URL == "" {
			return fmt.Errorf("backend remote.url is required for the remote backend")
		}
	default:
		return fmt.Errorf("unknown backend type: %q", c.Backend.Type)
	}

	if c.Batch.Window < 0 || c.Batch.Timeout < 0 {
		return fmt.Errorf("batch window and timeout must not be negative")
	}
	if _, err := wallet.Params(c.Wallet.Network); err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	if c.Prompt.Timeout < 0 {
		return fmt.Errorf("prompt timeout must not be negative")
	}
	return nil
}
