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

// Package prompt serializes interactive approval. At most one prompt is open
// per process; requests that need a human decision queue for the prompt lock
// in arrival order and re-check the policy table once they hold it, since the
// decision that released the lock may already cover them.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/clock"
	"github.com/jeremyhahn/go-frostsigner/pkg/metrics"
	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

// ErrNoSession is returned when a decision names a session that is not open.
var ErrNoSession = errors.New("prompt: no such session")

// Outcomes recorded for finished sessions.
const (
	OutcomeApproved = "approved"
	OutcomeRejected = "rejected"
	OutcomeClosed   = "closed"
	OutcomeCanceled = "canceled"
	OutcomeTimeout  = "timeout"
)

// Request is a privileged request awaiting authorization.
type Request struct {
	Host      string
	Operation types.Operation
	Params    json.RawMessage

	// Kind is the kind of the event being signed, if any.
	Kind *int

	// Payload is shown to the user, e.g. the completed event template.
	Payload any
}

// Prompt is the open approval session as presented to the user.
type Prompt struct {
	ID        string          `json:"id"`
	Host      string          `json:"host"`
	Operation types.Operation `json:"operation"`
	Params    json.RawMessage `json:"params,omitempty"`
	Kind      *int            `json:"kind,omitempty"`
	Payload   any             `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decision is the user's answer. Non-nil Conditions persist the decision as a
// policy; nil Conditions apply it to this request only.
type Decision struct {
	Accept     bool               `json:"accept"`
	Conditions *policy.Conditions `json:"conditions,omitempty"`
}

// Evaluator re-checks standing policy once the lock is held.
type Evaluator interface {
	Evaluate(ctx context.Context, host string, operation types.Operation, kind *int) (policy.Status, error)
}

// PolicyWriter persists remembered decisions.
type PolicyWriter interface {
	Upsert(host string, operation types.Operation, accept bool, conditions *policy.Conditions) error
}

// Surface presents prompts to the user.
type Surface interface {
	// Open shows p. It must not block waiting for the decision.
	Open(ctx context.Context, p *Prompt) error

	// Dismiss hides the prompt with the given id.
	Dismiss(id string)
}

type session struct {
	prompt  *Prompt
	result  chan bool
	release func()
	timer   clock.Timer
}

// Manager owns the prompt lock and the single open session.
type Manager struct {
	lock     Lock
	arbiter  Evaluator
	policies PolicyWriter
	surface  Surface
	clock    clock.Clock
	timeout  time.Duration
	log      logger.Logger

	mu      sync.Mutex
	current *session
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for timestamps and timeouts.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithTimeout closes a prompt left unanswered for d. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithLogger sets the manager logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager returns a Manager.
func NewManager(arbiter Evaluator, policies PolicyWriter, surface Surface, opts ...Option) *Manager {
	m := &Manager{
		arbiter:  arbiter,
		policies: policies,
		surface:  surface,
		clock:    clock.Real(),
		log:      logger.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Authorize returns the decision for req, prompting the user if no standing
// policy covers it. The prompt lock is always released before Authorize
// returns. Cancelling ctx while waiting for the lock abandons the wait;
// cancelling it while the prompt is open closes the prompt.
func (m *Manager) Authorize(ctx context.Context, req Request) (bool, error) {
	release, err := m.lock.Acquire(ctx)
	if err != nil {
		return false, err
	}

	status, err := m.arbiter.Evaluate(ctx, req.Host, req.Operation, req.Kind)
	if err != nil {
		release()
		return false, err
	}
	switch status {
	case policy.Allow:
		release()
		return true, nil
	case policy.Deny:
		release()
		return false, nil
	}

	s := &session{
		prompt: &Prompt{
			ID:        uuid.NewString(),
			Host:      req.Host,
			Operation: req.Operation,
			Params:    req.Params,
			Kind:      req.Kind,
			Payload:   req.Payload,
			CreatedAt: m.clock.Now(),
		},
		result:  make(chan bool, 1),
		release: release,
	}

	log := logger.FromContext(ctx, m.log).With(
		logger.Session(s.prompt.ID), logger.Host(req.Host), logger.Operation(req.Operation.String()))

	if m.timeout > 0 {
		id := s.prompt.ID
		s.timer = m.clock.AfterFunc(m.timeout, func() {
			if m.finish(id, false, OutcomeTimeout) {
				log.Warn("prompt timed out")
			}
		})
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	if err := m.surface.Open(ctx, s.prompt); err != nil {
		m.finish(s.prompt.ID, false, OutcomeClosed)
		log.Error("failed to open prompt", logger.Error(err))
		return false, fmt.Errorf("prompt: open surface: %w", err)
	}
	log.Info("prompt opened")

	select {
	case accepted := <-s.result:
		return accepted, nil
	case <-ctx.Done():
		if m.finish(s.prompt.ID, false, OutcomeCanceled) {
			log.Info("prompt abandoned by caller")
			return false, ctx.Err()
		}
		return <-s.result, nil
	}
}

// Respond delivers the user's decision for session id. Conditions, when
// present, are persisted before the caller is resolved and the lock is
// released, so queued requests see the new policy. A persistence failure is
// logged and the decision is still delivered.
func (m *Manager) Respond(id string, d Decision) error {
	s := m.take(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}

	if d.Conditions != nil {
		p := s.prompt
		if err := m.policies.Upsert(p.Host, p.Operation, d.Accept, d.Conditions); err != nil {
			m.log.Error("failed to persist decision",
				logger.Session(id), logger.Host(p.Host), logger.Operation(p.Operation.String()), logger.Error(err))
		}
	}

	outcome := OutcomeRejected
	if d.Accept {
		outcome = OutcomeApproved
	}
	m.complete(s, d.Accept, outcome)
	return nil
}

// Close resolves session id as rejected without persisting anything.
func (m *Manager) Close(id string) error {
	if !m.finish(id, false, OutcomeClosed) {
		return fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return nil
}

// Current returns a copy of the open prompt, or nil.
func (m *Manager) Current() *Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	p := *m.current.prompt
	return &p
}

// Waiters returns the number of requests queued behind the open prompt.
func (m *Manager) Waiters() int {
	return m.lock.Waiters()
}

func (m *Manager) take(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.prompt.ID != id {
		return nil
	}
	s := m.current
	m.current = nil
	return s
}

func (m *Manager) finish(id string, accepted bool, outcome string) bool {
	s := m.take(id)
	if s == nil {
		return false
	}
	m.complete(s, accepted, outcome)
	return true
}

// complete runs exactly once per session since take hands each session out
// once.
func (m *Manager) complete(s *session, accepted bool, outcome string) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.result <- accepted
	m.surface.Dismiss(s.prompt.ID)
	s.release()
	metrics.RecordPrompt(outcome, m.clock.Now().Sub(s.prompt.CreatedAt).Seconds())
}
