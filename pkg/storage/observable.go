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

package storage

import (
	"errors"
	"sync"
)

// Observable wraps a Backend and delivers a Change to subscribers after each
// successful Put or Delete. Writes through the wrapper are serialized so that
// Old always reflects the value replaced by the write.
type Observable struct {
	Backend

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
	closed bool
}

// NewObservable returns backend with Watch support. If backend already
// implements Watcher it is returned unchanged.
func NewObservable(backend Backend) ObservableBackend {
	if ob, ok := backend.(ObservableBackend); ok {
		return ob
	}
	return &Observable{
		Backend: backend,
		subs:    make(map[string]map[uint64]*subscriber),
	}
}

// Put stores value and notifies watchers of key.
func (o *Observable) Put(key string, value []byte) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	old, err := o.Backend.Get(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := o.Backend.Put(key, value); err != nil {
		return err
	}

	newValue := make([]byte, len(value))
	copy(newValue, value)
	o.publish(Change{Key: key, Old: old, New: newValue})
	return nil
}

// Delete removes key and notifies watchers of key.
func (o *Observable) Delete(key string) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	old, err := o.Backend.Get(key)
	if err != nil {
		return err
	}
	if err := o.Backend.Delete(key); err != nil {
		return err
	}

	o.publish(Change{Key: key, Old: old})
	return nil
}

// Watch implements Watcher.
func (o *Observable) Watch(key string, fn func(Change)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return func() {}
	}

	id := o.nextID
	o.nextID++

	sub := newSubscriber(fn)
	if o.subs[key] == nil {
		o.subs[key] = make(map[uint64]*subscriber)
	}
	o.subs[key][id] = sub
	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			if m := o.subs[key]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(o.subs, key)
				}
			}
			o.mu.Unlock()
			sub.stop()
		})
	}
}

// Close stops every subscription and closes the wrapped backend.
func (o *Observable) Close() error {
	o.mu.Lock()
	o.closed = true
	subs := o.subs
	o.subs = make(map[string]map[uint64]*subscriber)
	o.mu.Unlock()

	for _, m := range subs {
		for _, sub := range m {
			sub.stop()
		}
	}
	return o.Backend.Close()
}

// publish must be called with writeMu held so that per-key enqueue order
// matches write order.
func (o *Observable) publish(change Change) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, sub := range o.subs[change.Key] {
		sub.enqueue(change)
	}
}

// subscriber owns an unbounded FIFO drained by a single goroutine, so a slow
// callback never blocks writers.
type subscriber struct {
	fn func(Change)

	mu      sync.Mutex
	queue   []Change
	stopped bool
	wake    chan struct{}
}

func newSubscriber(fn func(Change)) *subscriber {
	return &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
	}
}

func (s *subscriber) enqueue(change Change) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, change)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for range s.wake {
		for {
			s.mu.Lock()
			if s.stopped {
				s.mu.Unlock()
				return
			}
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			next := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			s.fn(next)
		}
	}
}
