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

// Package storagetest holds the behavioral test suite every storage.Backend
// implementation must pass.
package storagetest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) storage.Backend

// Run exercises the storage.Backend contract against backends produced by
// newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("PutGet", func(t *testing.T) {
		tests := []struct {
			name  string
			key   string
			value []byte
		}{
			{"simple", "policies", []byte(`[]`)},
			{"empty value", "empty", []byte{}},
			{"binary", "binary", []byte{0x00, 0x01, 0x02, 0xFF}},
			{"nested key", "settings/relays", []byte(`{"wss://relay":{"read":true}}`)},
		}

		store := newBackend(t)
		defer store.Close()

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				require.NoError(t, store.Put(tt.key, tt.value))
				got, err := store.Get(tt.key)
				require.NoError(t, err)
				assert.Equal(t, len(tt.value), len(got))
				if len(tt.value) > 0 {
					assert.Equal(t, tt.value, got)
				}
			})
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		store := newBackend(t)
		defer store.Close()

		require.NoError(t, store.Put("k", []byte("one")))
		require.NoError(t, store.Put("k", []byte("two")))
		got, err := store.Get("k")
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got)
	})

	t.Run("NotFound", func(t *testing.T) {
		store := newBackend(t)
		defer store.Close()

		_, err := store.Get("missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, store.Delete("missing"), storage.ErrNotFound)

		exists, err := store.Exists("missing")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newBackend(t)
		defer store.Close()

		require.NoError(t, store.Put("gone", []byte("v")))
		exists, err := store.Exists("gone")
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, store.Delete("gone"))
		_, err = store.Get("gone")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("ListSortedByPrefix", func(t *testing.T) {
		store := newBackend(t)
		defer store.Close()

		for _, k := range []string{"settings/b", "policies", "settings/a", "settings/c"} {
			require.NoError(t, store.Put(k, []byte(k)))
		}

		keys, err := store.List("settings/")
		require.NoError(t, err)
		assert.Equal(t, []string{"settings/a", "settings/b", "settings/c"}, keys)

		all, err := store.List("")
		require.NoError(t, err)
		assert.Len(t, all, 4)

		none, err := store.List("nope/")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ValueIsolation", func(t *testing.T) {
		store := newBackend(t)
		defer store.Close()

		value := []byte("original")
		require.NoError(t, store.Put("iso", value))
		value[0] = 'X'

		got, err := store.Get("iso")
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), got)

		got[0] = 'Y'
		again, err := store.Get("iso")
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), again)
	})

	t.Run("Concurrent", func(t *testing.T) {
		store := newBackend(t)
		defer store.Close()

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				key := fmt.Sprintf("c/%02d", n)
				assert.NoError(t, store.Put(key, []byte(key)))
				_, err := store.Get(key)
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		keys, err := store.List("c/")
		require.NoError(t, err)
		assert.Len(t, keys, 16)
	})

	t.Run("Closed", func(t *testing.T) {
		store := newBackend(t)
		require.NoError(t, store.Close())

		_, err := store.Get("k")
		assert.ErrorIs(t, err, storage.ErrClosed)
		assert.ErrorIs(t, store.Put("k", []byte("v")), storage.ErrClosed)
		assert.ErrorIs(t, store.Delete("k"), storage.ErrClosed)
		_, err = store.List("")
		assert.ErrorIs(t, err, storage.ErrClosed)
		_, err = store.Exists("k")
		assert.ErrorIs(t, err, storage.ErrClosed)
	})

	t.Run("WatchOrder", func(t *testing.T) {
		store := storage.NewObservable(newBackend(t))
		defer store.Close()

		var (
			mu  sync.Mutex
			got []string
		)
		cancel := store.Watch("policies", func(c storage.Change) {
			mu.Lock()
			defer mu.Unlock()
			if c.New == nil {
				got = append(got, "deleted")
				return
			}
			got = append(got, string(c.New))
		})
		defer cancel()

		for i := 0; i < 20; i++ {
			require.NoError(t, store.Put("policies", []byte(fmt.Sprintf("v%02d", i))))
		}
		require.NoError(t, store.Put("other", []byte("ignored")))
		require.NoError(t, store.Delete("policies"))

		want := make([]string, 0, 21)
		for i := 0; i < 20; i++ {
			want = append(want, fmt.Sprintf("v%02d", i))
		}
		want = append(want, "deleted")

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == len(want)
		}, 2*time.Second, 5*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, want, got)
	})
}
