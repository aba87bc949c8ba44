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

// Package storage provides an abstraction layer for key-value storage backends
// and a change subscription that lets components react to writes made by other
// components without polling.
package storage

// Backend defines the interface for storage backends.
// All implementations must be thread-safe.
type Backend interface {
	// Get retrieves the value for the given key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) ([]byte, error)

	// Put stores the value for the given key, overwriting any existing value.
	Put(key string, value []byte) error

	// Delete removes the key and its value from storage.
	// Returns ErrNotFound if the key does not exist.
	Delete(key string) error

	// List returns all keys with the given prefix in sorted order.
	// If prefix is empty, all keys are returned.
	List(prefix string) ([]string, error)

	// Exists checks if a key exists in storage.
	Exists(key string) (bool, error)

	// Close releases any resources held by the backend. Operations after
	// Close return ErrClosed.
	Close() error
}

// Change describes a single write observed on a key. Old is nil when the key
// did not previously exist and New is nil when the key was deleted.
type Change struct {
	Key string
	Old []byte
	New []byte
}

// Watcher is implemented by backends that can notify subscribers of writes.
type Watcher interface {
	// Watch registers fn to be called for every change to key. Delivery is
	// asynchronous and ordered in write order for each subscriber. The
	// returned function cancels the subscription; no call to fn starts after
	// cancel returns.
	Watch(key string, fn func(Change)) (cancel func())
}

// ObservableBackend is a Backend that also supports Watch.
type ObservableBackend interface {
	Backend
	Watcher
}
