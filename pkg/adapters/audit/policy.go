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
	"slices"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
)

// PolicySource is the part of the policy store the recorder watches.
type PolicySource interface {
	Subscribe(fn func(old, current []policy.Policy)) (cancel func())
}

// WatchPolicies records an event for every policy added, updated or revoked
// in source, whichever path made the change. The returned func stops it.
func WatchPolicies(source PolicySource, adapter Adapter, log logger.Logger) (cancel func()) {
	if log == nil {
		log = logger.Nop()
	}
	return source.Subscribe(func(old, current []policy.Policy) {
		for _, event := range diff(old, current) {
			if err := adapter.LogEvent(context.Background(), event); err != nil {
				log.Warn("failed to record policy change", logger.Error(err))
			}
		}
	})
}

type policyKey struct {
	host      string
	operation string
	accept    bool
}

func keyOf(p policy.Policy) policyKey {
	return policyKey{host: p.Host, operation: p.Operation.String(), accept: p.Accept}
}

// diff returns the events turning old into current.
func diff(old, current []policy.Policy) []*Event {
	before := make(map[policyKey]policy.Policy, len(old))
	for _, p := range old {
		before[keyOf(p)] = p
	}

	var events []*Event
	for _, p := range current {
		k := keyOf(p)
		prev, existed := before[k]
		delete(before, k)

		switch {
		case !existed:
			events = append(events, policyEvent(EventPolicyAdd, p))
		case !policy.Equal(prev.Conditions, p.Conditions):
			events = append(events, policyEvent(EventPolicyUpdate, p))
		}
	}

	removed := make([]policy.Policy, 0, len(before))
	for _, p := range before {
		removed = append(removed, p)
	}
	slices.SortFunc(removed, func(a, b policy.Policy) int {
		if a.Host != b.Host {
			if a.Host < b.Host {
				return -1
			}
			return 1
		}
		if a.Operation != b.Operation {
			if a.Operation < b.Operation {
				return -1
			}
			return 1
		}
		return 0
	})
	for _, p := range removed {
		events = append(events, policyEvent(EventPolicyRevoke, p))
	}
	return events
}

func policyEvent(t EventType, p policy.Policy) *Event {
	event := &Event{
		Type:      t,
		Outcome:   Outcome(p.Accept),
		Host:      p.Host,
		Operation: p.Operation.String(),
	}
	if p.Conditions != nil {
		event.Kinds = slices.Clone(p.Conditions.Kinds)
	}
	return event
}
