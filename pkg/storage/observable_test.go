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

package storage_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage/memory"
)

func TestObservable_OldAndNew(t *testing.T) {
	store := storage.NewObservable(memory.New())
	defer store.Close()

	changes := make(chan storage.Change, 4)
	cancel := store.Watch("k", func(c storage.Change) { changes <- c })
	defer cancel()

	require.NoError(t, store.Put("k", []byte("one")))
	require.NoError(t, store.Put("k", []byte("two")))
	require.NoError(t, store.Delete("k"))

	first := <-changes
	assert.Nil(t, first.Old)
	assert.Equal(t, []byte("one"), first.New)

	second := <-changes
	assert.Equal(t, []byte("one"), second.Old)
	assert.Equal(t, []byte("two"), second.New)

	third := <-changes
	assert.Equal(t, []byte("two"), third.Old)
	assert.Nil(t, third.New)
}

func TestObservable_CancelStopsDelivery(t *testing.T) {
	store := storage.NewObservable(memory.New())
	defer store.Close()

	var (
		mu    sync.Mutex
		count int
	)
	cancel := store.Watch("k", func(storage.Change) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	require.NoError(t, store.Put("k", []byte("a")))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, time.Millisecond)

	cancel()
	cancel()
	require.NoError(t, store.Put("k", []byte("b")))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestObservable_DeleteMissing(t *testing.T) {
	store := storage.NewObservable(memory.New())
	defer store.Close()

	assert.ErrorIs(t, store.Delete("missing"), storage.ErrNotFound)
}

func TestObservable_SlowSubscriberDoesNotBlockWriters(t *testing.T) {
	store := storage.NewObservable(memory.New())
	defer store.Close()

	release := make(chan struct{})
	cancel := store.Watch("k", func(storage.Change) { <-release })
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			_ = store.Put("k", []byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writers blocked by slow subscriber")
	}
	close(release)
}

func TestNewObservable_ReturnsExistingWatcher(t *testing.T) {
	inner := storage.NewObservable(memory.New())
	defer inner.Close()
	assert.Same(t, inner, storage.NewObservable(inner))
}

func TestJSONHelpers(t *testing.T) {
	store := memory.New()
	defer store.Close()

	var relays map[string]bool
	found, err := storage.GetJSON(store, storage.RelaysKey, &relays)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, storage.PutJSON(store, storage.RelaysKey, map[string]bool{"wss://r": true}))
	found, err = storage.GetJSON(store, storage.RelaysKey, &relays)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]bool{"wss://r": true}, relays)

	require.NoError(t, store.Put(storage.ProtocolHandlerKey, []byte("not json")))
	var s string
	_, err = storage.GetJSON(store, storage.ProtocolHandlerKey, &s)
	assert.ErrorIs(t, err, storage.ErrInvalidData)

	names, err := storage.ListSettings(store)
	require.NoError(t, err)
	assert.Equal(t, []string{"protocol_handler", "relays"}, names)
}
