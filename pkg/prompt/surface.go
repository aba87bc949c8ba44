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
	"context"
	"sync"
)

// QueueSurface holds the open prompt for an external UI that polls or
// long-polls for it. Notify, if set, is called after each Open.
type QueueSurface struct {
	Notify func(p *Prompt)

	mu      sync.Mutex
	current *Prompt
	changed chan struct{}
}

// NewQueueSurface returns an empty QueueSurface.
func NewQueueSurface() *QueueSurface {
	return &QueueSurface{changed: make(chan struct{})}
}

// Open implements Surface.
func (q *QueueSurface) Open(_ context.Context, p *Prompt) error {
	q.mu.Lock()
	q.current = p
	q.broadcast()
	notify := q.Notify
	q.mu.Unlock()

	if notify != nil {
		notify(p)
	}
	return nil
}

// Dismiss implements Surface.
func (q *QueueSurface) Dismiss(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current != nil && q.current.ID == id {
		q.current = nil
		q.broadcast()
	}
}

// Current returns the open prompt or nil.
func (q *QueueSurface) Current() *Prompt {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// Next blocks until a prompt other than the one identified by after is open,
// then returns it. An empty after returns any open prompt.
func (q *QueueSurface) Next(ctx context.Context, after string) (*Prompt, error) {
	for {
		q.mu.Lock()
		if q.current != nil && q.current.ID != after {
			p := q.current
			q.mu.Unlock()
			return p, nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// broadcast must be called with mu held.
func (q *QueueSurface) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

var _ Surface = (*QueueSurface)(nil)
