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

package audit

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-frostsigner/pkg/correlation"
)

// DefaultCapacity is the number of events a MemoryAdapter retains.
const DefaultCapacity = 1024

// MemoryAdapter keeps the most recent events in a ring buffer.
type MemoryAdapter struct {
	mu     sync.RWMutex
	events []*Event
	next   int
	full   bool
	now    func() time.Time
}

// NewMemoryAdapter returns an adapter retaining up to capacity events.
// Non-positive capacity uses DefaultCapacity.
func NewMemoryAdapter(capacity int) *MemoryAdapter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryAdapter{
		events: make([]*Event, capacity),
		now:    time.Now,
	}
}

// LogEvent implements Adapter.
func (m *MemoryAdapter) LogEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}
	if event.RequestID == "" {
		event.RequestID = correlation.GetCorrelationID(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[m.next] = event
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

// GetEvents implements Adapter.
func (m *MemoryAdapter) GetEvents(_ context.Context, query *EventQuery) ([]*Event, error) {
	if query == nil {
		query = &EventQuery{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	count := m.next
	if m.full {
		count = len(m.events)
	}

	results := make([]*Event, 0)
	for i := 1; i <= count; i++ {
		event := m.events[(m.next-i+len(m.events))%len(m.events)]
		if !matches(event, query) {
			continue
		}
		results = append(results, event)
		if query.Limit > 0 && len(results) == query.Limit {
			break
		}
	}
	return results, nil
}

// Len returns the number of retained events.
func (m *MemoryAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.events)
	}
	return m.next
}

func matches(event *Event, query *EventQuery) bool {
	if len(query.Types) > 0 && !slices.Contains(query.Types, event.Type) {
		return false
	}
	if query.Host != "" && event.Host != query.Host {
		return false
	}
	if !query.Since.IsZero() && event.Timestamp.Before(query.Since) {
		return false
	}
	return true
}

var _ Adapter = (*MemoryAdapter)(nil)
