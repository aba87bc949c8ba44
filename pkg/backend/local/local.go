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

// Package local implements backend.Backend with a single secp256k1 key held in
// process memory. It produces the same BIP-340 signatures a threshold group
// would and is meant for development and tests.
package local

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/metrics"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

// compressedOdd is the SEC1 prefix of a compressed key with odd y.
const compressedOdd = 0x03

// Backend signs with one key.
type Backend struct {
	mu     sync.RWMutex
	priv   *btcec.PrivateKey
	log    logger.Logger
	closed bool
}

// NewBackend creates a local backend from config.
func NewBackend(config *Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := config.Logger
	if log == nil {
		log = logger.Default()
	}

	priv, err := loadKey(config, log)
	if err != nil {
		return nil, err
	}
	return &Backend{priv: priv, log: log}, nil
}

// FromPrivateKey wraps an existing key.
func FromPrivateKey(priv *btcec.PrivateKey) *Backend {
	return &Backend{priv: priv, log: logger.Nop()}
}

func loadKey(config *Config, log logger.Logger) (*btcec.PrivateKey, error) {
	if config.SecretKey != "" {
		return parseSecret(config.SecretKey)
	}

	data, err := config.KeyStorage.Get(KeyStorageKey)
	switch {
	case err == nil:
		return parseSecret(string(data))
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to load key: %w", err)
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := config.KeyStorage.Put(KeyStorageKey, []byte(hex.EncodeToString(priv.Serialize()))); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}
	log.Warn("generated development signing key",
		logger.String("group_key", hex.EncodeToString(priv.PubKey().SerializeCompressed())))
	return priv, nil
}

func parseSecret(s string) (*btcec.PrivateKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("secret key must be 32 bytes of hex")
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("secret key is zero")
	}
	return priv, nil
}

// Sign implements backend.Backend.
func (b *Backend) Sign(ctx context.Context, targets []backend.SignTarget) ([]backend.Signature, error) {
	start := time.Now()
	sigs, err := b.sign(ctx, targets)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordBackendCall("sign", status, time.Since(start).Seconds())
	return sigs, err
}

func (b *Backend) sign(ctx context.Context, targets []backend.SignTarget) ([]backend.Signature, error) {
	priv, err := b.key()
	if err != nil {
		return nil, err
	}

	out := make([]backend.Signature, 0, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := backend.DecodeTarget(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrBackend, err)
		}

		key := priv
		if len(t.Tweak) > 0 {
			if key, err = TweakKey(priv, t.Tweak); err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrBackend, err)
			}
		}

		sig, err := schnorr.Sign(key, msg)
		if err != nil {
			return nil, fmt.Errorf("%w: sign %s: %v", types.ErrBackend, t.ID, err)
		}
		out = append(out, backend.Signature{ID: t.ID, Signature: sig.Serialize()})
	}
	return out, nil
}

// ECDH implements backend.Backend.
func (b *Backend) ECDH(ctx context.Context, peer []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	priv, err := b.key()
	if err != nil {
		return nil, err
	}
	pub, err := backend.ParsePeer(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}
	return btcec.GenerateSharedSecret(priv, pub), nil
}

// GroupPublicKey implements backend.Backend.
func (b *Backend) GroupPublicKey() []byte {
	return b.priv.PubKey().SerializeCompressed()
}

// Status implements backend.StatusReporter.
func (b *Backend) Status(ctx context.Context) (*backend.Status, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &backend.Status{
		Ready:    !b.closed,
		GroupKey: hex.EncodeToString(b.GroupPublicKey()),
		Peers:    1,
		Detail:   map[string]any{"mode": "local"},
	}, nil
}

// Reset implements backend.Resetter. A closed local backend is reopened.
func (b *Backend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = false
	b.log.Info("local backend reset")
	return nil
}

// Close stops the backend from serving further calls.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Backend) key() (*btcec.PrivateKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("%w: %w", types.ErrBackend, backend.ErrClosed)
	}
	return b.priv, nil
}

// TweakKey returns the BIP-341 output secret for priv and the tweak scalar:
// the secret is negated if its public key has odd y, then the tweak is added.
func TweakKey(priv *btcec.PrivateKey, tweak []byte) (*btcec.PrivateKey, error) {
	var t btcec.ModNScalar
	if overflow := t.SetByteSlice(tweak); overflow {
		return nil, fmt.Errorf("tweak exceeds curve order")
	}

	var d btcec.ModNScalar
	d.Set(&priv.Key)
	if priv.PubKey().SerializeCompressed()[0] == compressedOdd {
		d.Negate()
	}
	d.Add(&t)
	if d.IsZero() {
		return nil, fmt.Errorf("tweaked key is zero")
	}
	return btcec.PrivKeyFromScalar(&d), nil
}

var (
	_ backend.Backend        = (*Backend)(nil)
	_ backend.StatusReporter = (*Backend)(nil)
	_ backend.Resetter       = (*Backend)(nil)
)
