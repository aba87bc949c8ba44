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

// Package policy persists per-origin permission decisions and answers whether
// a request is already allowed, already denied, or needs a human decision.
//
// The whole table lives under a single storage key as a JSON array. Every
// mutation is a read-modify-write under the store mutex followed by one Put,
// so a reader never observes a half-applied change.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/clock"
	"github.com/jeremyhahn/go-frostsigner/pkg/metrics"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

// Status is the outcome of a policy lookup.
type Status int

const (
	// Unknown means no policy covers the request.
	Unknown Status = iota
	// Allow means an accept=true policy covers the request.
	Allow
	// Deny means an accept=false policy covers the request.
	Deny
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Policy is one remembered decision. At most one accept=true and one
// accept=false policy exist per (Host, Operation).
type Policy struct {
	Host       string          `json:"host"`
	Operation  types.Operation `json:"operation"`
	Accept     bool            `json:"accept"`
	Conditions *Conditions     `json:"conditions,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// Store is the persisted policy table.
type Store struct {
	mu      sync.Mutex
	backend storage.ObservableBackend
	clock   clock.Clock
	log     logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for created_at.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore returns a Store persisting to backend. The backend is wrapped so
// that Subscribe works regardless of the storage implementation.
func NewStore(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend: storage.NewObservable(backend),
		clock:   clock.Real(),
		log:     logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetStatus reports whether host may perform operation. kind is the kind of
// the event being signed, or nil when the request carries no event. Accepting
// policies are consulted before rejecting ones; a policy restricted to kinds
// only applies when kind is in its set.
func (s *Store) GetStatus(host string, operation types.Operation, kind *int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil {
		return Unknown, err
	}

	for _, accept := range []bool{true, false} {
		p := find(table, host, operation, accept)
		if p == nil || !p.Conditions.Matches(kind) {
			continue
		}
		if accept {
			return Allow, nil
		}
		return Deny, nil
	}
	return Unknown, nil
}

// Upsert records a decision. An opposite-decision policy with identical
// conditions is removed; an existing same-decision policy has its kinds
// merged by union. created_at is set to now in both cases.
func (s *Store) Upsert(host string, operation types.Operation, accept bool, conditions *Conditions) error {
	if host == "" || operation == "" {
		return fmt.Errorf("%w: policy requires host and operation", types.ErrMalformedInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil {
		return err
	}

	conditions = conditions.Normalize()
	if opposite := find(table, host, operation, !accept); opposite != nil && Equal(opposite.Conditions, conditions) {
		table = remove(table, host, operation, !accept)
		s.log.Info("replaced opposite policy",
			logger.Host(host), logger.Operation(operation.String()), logger.Bool("accept", accept))
	}

	now := s.clock.Now().Unix()
	if existing := find(table, host, operation, accept); existing != nil {
		existing.Conditions = Merge(existing.Conditions, conditions)
		existing.CreatedAt = now
	} else {
		table = append(table, Policy{
			Host:       host,
			Operation:  operation,
			Accept:     accept,
			Conditions: conditions,
			CreatedAt:  now,
		})
	}

	return s.save(table)
}

// Revoke removes the policy for the exact (host, operation, accept) triple.
// Revoking a policy that does not exist is a no-op.
func (s *Store) Revoke(host string, operation types.Operation, accept bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil {
		return err
	}
	if find(table, host, operation, accept) == nil {
		return nil
	}
	return s.save(remove(table, host, operation, accept))
}

// RevokeHost removes every policy for host and returns how many were removed.
func (s *Store) RevokeHost(host string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil {
		return 0, err
	}

	kept := table[:0]
	for _, p := range table {
		if p.Host != host {
			kept = append(kept, p)
		}
	}
	removed := len(table) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(kept)
}

// List returns every policy ordered by host, operation, then accept first.
func (s *Store) List() ([]Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil {
		return nil, err
	}
	sortPolicies(table)
	return table, nil
}

// ListHost returns the policies for host.
func (s *Store) ListHost(host string) ([]Policy, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make([]Policy, 0)
	for _, p := range all {
		if p.Host == host {
			out = append(out, p)
		}
	}
	return out, nil
}

// Subscribe calls fn with the previous and current table after every change,
// including changes made by other Store instances sharing the same wrapped
// backend. Calls are asynchronous and ordered.
func (s *Store) Subscribe(fn func(old, current []Policy)) (cancel func()) {
	return s.backend.Watch(storage.PoliciesKey, func(c storage.Change) {
		old, err := decode(c.Old)
		if err != nil {
			s.log.Warn("undecodable previous policy table", logger.Error(err))
		}
		current, err := decode(c.New)
		if err != nil {
			s.log.Warn("undecodable policy table", logger.Error(err))
		}
		fn(old, current)
	})
}

func (s *Store) load() ([]Policy, error) {
	data, err := s.backend.Get(storage.PoliciesKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []Policy{}, nil
		}
		return nil, fmt.Errorf("policy: load: %w", err)
	}
	table, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("policy: load: %w", err)
	}
	return table, nil
}

func (s *Store) save(table []Policy) error {
	sortPolicies(table)
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("policy: encode: %w", err)
	}
	if err := s.backend.Put(storage.PoliciesKey, data); err != nil {
		return fmt.Errorf("policy: save: %w", err)
	}
	metrics.SetPolicies(len(table))
	return nil
}

func decode(data []byte) ([]Policy, error) {
	table := make([]Policy, 0)
	if len(data) == 0 {
		return table, nil
	}
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidData, err)
	}
	return table, nil
}

func find(table []Policy, host string, operation types.Operation, accept bool) *Policy {
	for i := range table {
		p := &table[i]
		if p.Host == host && p.Operation == operation && p.Accept == accept {
			return p
		}
	}
	return nil
}

func remove(table []Policy, host string, operation types.Operation, accept bool) []Policy {
	out := make([]Policy, 0, len(table))
	for _, p := range table {
		if p.Host == host && p.Operation == operation && p.Accept == accept {
			continue
		}
		out = append(out, p)
	}
	return out
}

func sortPolicies(table []Policy) {
	sort.SliceStable(table, func(i, j int) bool {
		a, b := table[i], table[j]
		if a.Host != b.Host {
			return a.Host < b.Host
		}
		if a.Operation != b.Operation {
			return a.Operation < b.Operation
		}
		return a.Accept && !b.Accept
	})
}
