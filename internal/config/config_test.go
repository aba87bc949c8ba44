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

package config

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/auth"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	return path
}

// TestLoad_Success tests successful loading of a valid config file
func TestLoad_Success(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "0.0.0.0"
  port: 8080
  allowed_origins: ["https://app.example"]

logging:
  level: "debug"
  format: "json"

auth:
  enabled: true
  type: "jwt"
  jwt:
    secret: "0123456789abcdef0123456789abcdef"
    ttl: 1h

ratelimit:
  enabled: true
  requests_per_min: 120

storage:
  backend: "badger"
  path: "/var/lib/frostsigner"

backend:
  type: "remote"
  remote:
    url: "wss://node.example/ws"
    token: "node-token"

batch:
  window: 25ms
  fail_whole_batch: true

wallet:
  network: "signet"
  esplora_url: "https://mempool.space/signet/api"

prompt:
  timeout: 2m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Server.Addr() = %q", cfg.Server.Addr())
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Auth.TokenTTL() != time.Hour {
		t.Errorf("TokenTTL() = %v, want 1h", cfg.Auth.TokenTTL())
	}
	if cfg.Storage.Backend != "badger" || cfg.Storage.Path != "/var/lib/frostsigner" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Backend.Remote.URL != "wss://node.example/ws" {
		t.Errorf("Backend.Remote.URL = %q", cfg.Backend.Remote.URL)
	}
	if cfg.Backend.Remote.DialTimeout != 10*time.Second {
		t.Errorf("DialTimeout default lost: %v", cfg.Backend.Remote.DialTimeout)
	}
	if cfg.Batch.Window != 25*time.Millisecond || !cfg.Batch.FailWholeBatch {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if cfg.Batch.Timeout != 30*time.Second {
		t.Errorf("Batch.Timeout default lost: %v", cfg.Batch.Timeout)
	}
	if cfg.Wallet.Network != "signet" {
		t.Errorf("Wallet.Network = %q", cfg.Wallet.Network)
	}
	if cfg.Prompt.Timeout != 2*time.Minute {
		t.Errorf("Prompt.Timeout = %v", cfg.Prompt.Timeout)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.Type != "local" || cfg.Storage.Backend != "memory" {
		t.Errorf("unexpected defaults: backend=%q storage=%q", cfg.Backend.Type, cfg.Storage.Backend)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "server: [")); err == nil {
		t.Error("expected error for invalid YAML")
	}
	if _, err := Load(writeConfig(t, "server:\n  port: 0\n")); err == nil {
		t.Error("expected validation error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("FROSTSIGNER_HOST", "10.0.0.1")
	t.Setenv("FROSTSIGNER_PORT", "9000")
	t.Setenv("FROSTSIGNER_LOG_LEVEL", "warn")
	t.Setenv("FROSTSIGNER_STORAGE", "redis")
	t.Setenv("FROSTSIGNER_REDIS_ADDR", "localhost:6379")
	t.Setenv("FROSTSIGNER_BACKEND", "remote")
	t.Setenv("FROSTSIGNER_NODE_URL", "ws://127.0.0.1:9999")
	t.Setenv("FROSTSIGNER_JWT_SECRET", "from-env")
	t.Setenv("FROSTSIGNER_NETWORK", "regtest")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.Server.Host != "10.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.Redis.Addr != "localhost:6379" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Backend.Type != "remote" || cfg.Backend.Remote.URL != "ws://127.0.0.1:9999" {
		t.Errorf("Backend = %+v", cfg.Backend)
	}
	if cfg.Auth.JWT == nil || cfg.Auth.JWT.Secret != "from-env" {
		t.Errorf("Auth.JWT = %+v", cfg.Auth.JWT)
	}
	if cfg.Wallet.Network != "regtest" {
		t.Errorf("Wallet.Network = %q", cfg.Wallet.Network)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyEnvOverrides_InvalidPort(t *testing.T) {
	t.Setenv("FROSTSIGNER_PORT", "not-a-port")
	cfg := Default()
	applyEnvOverrides(cfg)
	if cfg.Server.Port != 7777 {
		t.Errorf("invalid port override applied: %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "invalid log format"},
		{"tls without cert", func(c *Config) { c.TLS.Enabled = true }, "cert_file"},
		{"tls without key", func(c *Config) { c.TLS = TLSConfig{Enabled: true, CertFile: "c"} }, "key_file"},
		{"unknown auth", func(c *Config) { c.Auth = AuthConfig{Enabled: true, Type: "ldap"} }, "unknown auth type"},
		{"apikey without keys", func(c *Config) { c.Auth = AuthConfig{Enabled: true, Type: "apikey"} }, "no API keys"},
		{"jwt without secret", func(c *Config) { c.Auth = AuthConfig{Enabled: true, Type: "jwt"} }, "jwt.secret"},
		{"ratelimit zero", func(c *Config) { c.RateLimit = RateLimitConfig{Enabled: true} }, "requests_per_min"},
		{"file storage without path", func(c *Config) { c.Storage.Backend = "file" }, "storage path"},
		{"redis without addr", func(c *Config) { c.Storage.Backend = "redis" }, "redis.addr"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "etcd" }, "unknown storage"},
		{"remote without url", func(c *Config) { c.Backend.Type = "remote" }, "remote.url"},
		{"unknown backend", func(c *Config) { c.Backend.Type = "hsm" }, "unknown backend"},
		{"negative window", func(c *Config) { c.Batch.Window = -time.Second }, "batch"},
		{"unknown network", func(c *Config) { c.Wallet.Network = "dogecoin" }, "wallet"},
		{"negative prompt timeout", func(c *Config) { c.Prompt.Timeout = -1 }, "prompt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateAuthenticator(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	tests := []struct {
		name     string
		cfg      AuthConfig
		wantName string
		wantErr  bool
	}{
		{"disabled", AuthConfig{Type: "jwt"}, "noop", false},
		{"noop", AuthConfig{Enabled: true, Type: "noop"}, "noop", false},
		{"apikey", AuthConfig{Enabled: true, Type: "apikey", APIKeys: map[string]string{"k": "ui"}}, "apikey", false},
		{"jwt", AuthConfig{Enabled: true, Type: "jwt", JWT: &JWTConfig{Secret: secret}}, "jwt", false},
		{"jwt short secret", AuthConfig{Enabled: true, Type: "jwt", JWT: &JWTConfig{Secret: "short"}}, "", true},
		{"chain", AuthConfig{Enabled: true, Type: "chain", JWT: &JWTConfig{Secret: secret}, APIKeys: map[string]string{"k": "ui"}}, "", false},
		{"chain empty", AuthConfig{Enabled: true, Type: "chain"}, "", true},
		{"unknown", AuthConfig{Enabled: true, Type: "ldap"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := tt.cfg.CreateAuthenticator()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateAuthenticator() error = %v", err)
			}
			if tt.wantName != "" && a.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", a.Name(), tt.wantName)
			}
			if tt.name == "chain" {
				if chain, ok := a.(auth.Chain); !ok || len(chain) != 2 {
					t.Errorf("expected a two-element chain, got %T", a)
				}
			}
		})
	}
}

func TestLoadTLSConfig(t *testing.T) {
	disabled := &TLSConfig{}
	if c, err := disabled.LoadTLSConfig(); c != nil || err != nil {
		t.Fatalf("disabled TLS = %v, %v", c, err)
	}

	missing := &TLSConfig{Enabled: true, CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"}
	if _, err := missing.LoadTLSConfig(); err == nil {
		t.Fatal("expected error for missing certificate")
	}

	versions := map[string]uint16{"": tls.VersionTLS12, "TLS1.2": tls.VersionTLS12, "TLS1.3": tls.VersionTLS13}
	for in, want := range versions {
		got, err := parseTLSVersion(in)
		if err != nil || got != want {
			t.Errorf("parseTLSVersion(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := parseTLSVersion("TLS1.0"); err == nil {
		t.Error("TLS1.0 must be rejected")
	}

	for _, in := range []string{"", "none", "request", "require", "verify", "require_and_verify"} {
		if _, err := parseClientAuthType(in); err != nil {
			t.Errorf("parseClientAuthType(%q) error = %v", in, err)
		}
	}
	if _, err := parseClientAuthType("sometimes"); err == nil {
		t.Error("expected error for unknown client auth")
	}
}
