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

package prompt

import (
	"container/list"
	"context"
	"sync"

	"github.com/jeremyhahn/go-frostsigner/pkg/metrics"
)

// Lock is a mutual-exclusion lock granted to waiters in arrival order.
// Acquire hands back a release capability instead of exposing Unlock, so a
// holder can only release what it acquired, and only once.
type Lock struct {
	mu      sync.Mutex
	held    bool
	waiters list.List // of chan struct{}
}

// Acquire blocks until the lock is granted or ctx is done. A waiter whose
// context ends is removed from the queue; if the lock was granted to it at
// the same moment, it is passed on to the next waiter.
func (l *Lock) Acquire(ctx context.Context) (release func(), err error) {
	l.mu.Lock()
	if !l.held && l.waiters.Len() == 0 {
		l.held = true
		l.mu.Unlock()
		return l.releaser(), nil
	}

	granted := make(chan struct{})
	elem := l.waiters.PushBack(granted)
	l.mu.Unlock()

	metrics.AddPromptWaiters(1)
	defer metrics.AddPromptWaiters(-1)

	select {
	case <-granted:
		return l.releaser(), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	select {
	case <-granted:
		l.mu.Unlock()
		l.releaser()()
	default:
		l.waiters.Remove(elem)
		l.mu.Unlock()
	}
	return nil, ctx.Err()
}

// Waiters returns the number of callers queued behind the holder.
func (l *Lock) Waiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}

// Held reports whether the lock is currently granted.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *Lock) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(l.release)
	}
}

func (l *Lock) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	front := l.waiters.Front()
	if front == nil {
		l.held = false
		return
	}
	l.waiters.Remove(front)
	close(front.Value.(chan struct{}))
}
