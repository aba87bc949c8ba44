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

package server

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jeremyhahn/go-frostsigner/internal/config"
	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend/local"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend/remote"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage/badger"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage/file"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage/memory"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage/redis"
)

// Storage backend names accepted in storage.backend.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageBadger = "badger"
	StorageRedis  = "redis"
)

// Signing backend names accepted in backend.type.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
	BackendNone   = "none"
)

// OpenStorage opens the persistent store described by cfg. Policies, settings
// and the local backend's key all live in it.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case StorageMemory, "":
		return memory.New(), nil

	case StorageFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file storage requires storage.path")
		}
		s, err := file.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil

	case StorageBadger:
		if cfg.Path == "" {
			return nil, fmt.Errorf("badger storage requires storage.path")
		}
		s, err := badger.Open(filepath.Clean(cfg.Path))
		if err != nil {
			return nil, err
		}
		return s, nil

	case StorageRedis:
		s, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// NewBackend creates the threshold signing backend. It returns nil for the
// "none" type; the signer then answers ErrNotInitialized for operations that
// need a key.
func NewBackend(ctx context.Context, cfg config.BackendConfig, keys storage.Backend, log logger.Logger) (backend.Backend, error) {
	switch cfg.Type {
	case BackendLocal, "":
		b, err := local.NewBackend(&local.Config{
			SecretKey:  cfg.Local.SecretKey,
			KeyStorage: keys,
			Logger:     log.With(logger.String("backend", BackendLocal)),
		})
		if err != nil {
			return nil, fmt.Errorf("local backend: %w", err)
		}
		return b, nil

	case BackendRemote:
		c, err := remote.Dial(ctx, remote.Config{
			URL:            cfg.Remote.URL,
			Token:          cfg.Remote.Token,
			GroupPublicKey: cfg.Remote.GroupPublicKey,
			DialTimeout:    cfg.Remote.DialTimeout,
			Logger:         log.With(logger.String("backend", BackendRemote)),
		})
		if err != nil {
			return nil, fmt.Errorf("remote backend: %w", err)
		}
		return c, nil

	case BackendNone:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
