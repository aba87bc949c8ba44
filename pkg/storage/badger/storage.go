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

// Package badger provides a storage.Backend on top of an embedded Badger v3
// key-value store.
package badger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v3"

	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
)

// Storage is a Badger-backed implementation of storage.Backend.
type Storage struct {
	mu     sync.RWMutex
	db     *badgerdb.DB
	closed bool
}

// Open opens (or creates) a Badger database in dir. An empty dir opens an
// in-memory database.
func Open(dir string) (*Storage, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger storage: failed to open %q: %w", dir, err)
	}
	return &Storage{db: db}, nil
}

// Get retrieves the value for the given key.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	var value []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger storage: failed to read key %q: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Put stores the value for the given key.
func (s *Storage) Put(key string, value []byte) error {
	if key == "" {
		return storage.ErrInvalidKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrClosed
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), valueCopy)
	})
	if err != nil {
		return fmt.Errorf("badger storage: failed to write key %q: %w", key, err)
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

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("badger storage: failed to delete key %q: %w", key, err)
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

	keys := make([]string, 0)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger storage: failed to list keys: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Exists checks if a key exists in storage.
func (s *Storage) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the underlying database. Multiple calls are safe.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ storage.Backend = (*Storage)(nil)
