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

// Package redis provides a storage.Backend backed by a Redis server, for
// deployments where several signer processes share one policy table.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
)

const defaultTimeout = 5 * time.Second

// Config holds connection settings for the Redis backend.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key, e.g. "frostsigner:".
	Prefix string

	// Timeout bounds each round trip. Zero uses 5s.
	Timeout time.Duration
}

// Storage is a Redis-backed implementation of storage.Backend.
type Storage struct {
	client  goredis.UniversalClient
	prefix  string
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// New connects to the server described by cfg and verifies it with PING.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	s := NewWithClient(client, cfg.Prefix, cfg.Timeout)

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis storage: ping %s: %w", cfg.Addr, err)
	}
	return s, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, prefix string, timeout time.Duration) *Storage {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Storage{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
	}
}

func (s *Storage) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Get retrieves the value for the given key.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()

	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis storage: failed to read key %q: %w", key, err)
	}
	return value, nil
}

// Put stores the value for the given key with no expiry.
func (s *Storage) Put(key string, value []byte) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis storage: failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete removes the key and its value from storage.
func (s *Storage) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()

	n, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("redis storage: failed to delete key %q: %w", key, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List returns all keys with the given prefix in sorted order.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()

	pattern := escapeGlob(s.prefix+prefix) + "*"
	keys := make([]string, 0)

	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis storage: failed to list keys: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Exists checks if a key exists in storage.
func (s *Storage) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, storage.ErrClosed
	}

	ctx, cancel := s.ctx()
	defer cancel()

	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis storage: failed to check key %q: %w", key, err)
	}
	return n > 0, nil
}

// Close closes the client connection. Multiple calls are safe.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// escapeGlob escapes the characters SCAN MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ storage.Backend = (*Storage)(nil)
