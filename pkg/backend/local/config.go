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

package local

import (
	"fmt"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
)

// KeyStorageKey is where a generated development key is persisted.
const KeyStorageKey = "backend/local/key"

// Config contains configuration for the local backend.
type Config struct {
	// SecretKey is a hex-encoded 32-byte secp256k1 secret. When empty the key
	// is loaded from KeyStorage, or generated and saved there.
	SecretKey string

	// KeyStorage persists a generated key across restarts. Optional when
	// SecretKey is set.
	KeyStorage storage.Backend

	Logger logger.Logger
}

// Validate checks if the Config is valid.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.SecretKey == "" && c.KeyStorage == nil {
		return fmt.Errorf("SecretKey or KeyStorage is required")
	}
	return nil
}
