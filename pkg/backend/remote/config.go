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

package remote

import (
	"fmt"
	"net/url"
	"time"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultReadLimit   = 1 << 20
)

// Config contains configuration for the remote node client.
type Config struct {
	// URL is the node's websocket endpoint (ws:// or wss://).
	URL string

	// Token, if set, is sent as a bearer token during the handshake.
	Token string

	// GroupPublicKey is the hex-encoded compressed group key. When empty it
	// is taken from the node's status on first connect.
	GroupPublicKey string

	DialTimeout time.Duration
	ReadLimit   int64
	Logger      logger.Logger
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	if c.Logger == nil {
		c.Logger = logger.Default()
	}
}

// Validate checks if the Config is valid.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	return nil
}
