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

package cli

import (
	"context"
	"fmt"

	"github.com/jeremyhahn/go-frostsigner/internal/config"
	"github.com/jeremyhahn/go-frostsigner/internal/server"
	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the daemon configuration file
	ConfigFile string

	// OutputFormat controls output formatting (json, text, table)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: "text",
		Verbose:      false,
	}
}

// LoadDaemonConfig loads the daemon configuration named by --config.
func (c *Config) LoadDaemonConfig() (*config.Config, error) {
	cfg, err := config.Load(c.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Logger returns a stderr logger honoring --verbose.
func (c *Config) Logger() logger.Logger {
	level := logger.LevelWarn
	if c.Verbose {
		level = logger.LevelDebug
	}
	return logger.NewSlogAdapter(&logger.SlogConfig{Level: level})
}

// OpenPolicies opens the daemon's storage and returns its policy store. An
// in-memory store is refused since it would not be the daemon's table.
func (c *Config) OpenPolicies(ctx context.Context) (*policy.Store, storage.Backend, error) {
	cfg, err := c.LoadDaemonConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Backend == server.StorageMemory {
		return nil, nil, fmt.Errorf("policy commands need persistent storage (file, badger or redis)")
	}

	printVerbose("Opening %s storage", cfg.Storage.Backend)
	store, err := server.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return policy.NewStore(store, policy.WithLogger(c.Logger())), store, nil
}
