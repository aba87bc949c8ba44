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

// Package batch coalesces signing requests that arrive within a short window
// into one backend call and fans the signatures back out to each caller.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/clock"
	"github.com/jeremyhahn/go-frostsigner/pkg/metrics"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

// DefaultWindow is the flush window when none is configured.
const DefaultWindow = 50 * time.Millisecond

var (
	// ErrNoSignature is returned to a request whose id the backend did not
	// sign.
	ErrNoSignature = errors.New("no signature found")

	// ErrClosed is returned by requests enqueued after Close.
	ErrClosed = errors.New("batcher closed")
)

// Signer is the part of backend.Backend the batcher needs.
type Signer interface {
	Sign(ctx context.Context, targets []backend.SignTarget) ([]backend.Signature, error)
}

// Config controls batching.
type Config struct {
	// Window is how long the first request of a batch waits for company.
	Window time.Duration `yaml:"window"`

	// Timeout bounds each backend call. Zero means no bound.
	Timeout time.Duration `yaml:"timeout"`

	// FailWholeBatch rejects every request of a batch when any id is
	// missing from the backend's reply.
	FailWholeBatch bool `yaml:"fail_whole_batch"`
}

// Pending is the eventual result of one enqueued request.
type Pending struct {
	ID string

	target backend.SignTarget
	once   sync.Once
	done   chan struct{}
	sig    []byte
	err    error
}

func newPending(t backend.SignTarget) *Pending {
	return &Pending{ID: t.ID, target: t, done: make(chan struct{})}
}

// Wait returns the signature once the request's batch completes. Cancelling
// ctx abandons the wait only; the request still completes.
func (p *Pending) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-p.done:
		return p.sig, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the request completes.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

func (p *Pending) complete(sig []byte, err error) {
	p.once.Do(func() {
		p.sig, p.err = sig, err
		close(p.done)
	})
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithClock sets the clock that drives the flush timer.
func WithClock(c clock.Clock) Option {
	return func(b *Batcher) { b.clock = c }
}

// WithLogger sets the batcher logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Batcher) { b.log = l }
}

// Batcher owns the request queue and the single flush timer. Batches are
// signed one at a time in the order they were flushed.
type Batcher struct {
	signer         Signer
	clock          clock.Clock
	log            logger.Logger
	window         time.Duration
	timeout        time.Duration
	failWholeBatch bool

	mu       sync.Mutex
	queue    []*Pending
	timer    clock.Timer
	armed    uint64
	batches  [][]*Pending
	stopping bool

	wake    chan struct{}
	stopped chan struct{}
}

// New starts a Batcher signing through signer.
func New(signer Signer, cfg Config, opts ...Option) *Batcher {
	b := &Batcher{
		signer:         signer,
		clock:          clock.Real(),
		log:            logger.Default(),
		window:         cfg.Window,
		timeout:        cfg.Timeout,
		failWholeBatch: cfg.FailWholeBatch,
		wake:           make(chan struct{}, 1),
		stopped:        make(chan struct{}),
	}
	if b.window <= 0 {
		b.window = DefaultWindow
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

// Enqueue adds a request for the 32-byte message whose hex encoding is id.
// It never blocks.
func (b *Batcher) Enqueue(id string) *Pending {
	return b.EnqueueTarget(backend.SignTarget{ID: id})
}

// EnqueueTemplate enqueues a request identified by the canonical hash of
// template.
func (b *Batcher) EnqueueTemplate(template any) (*Pending, error) {
	id, err := TemplateID(template)
	if err != nil {
		return nil, err
	}
	return b.Enqueue(id), nil
}

// EnqueueTarget adds a request with an explicit target.
func (b *Batcher) EnqueueTarget(t backend.SignTarget) *Pending {
	p := newPending(t)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopping {
		p.complete(nil, ErrClosed)
		return p
	}
	b.queue = append(b.queue, p)
	if b.timer == nil {
		b.armed++
		gen := b.armed
		b.timer = b.clock.AfterFunc(b.window, func() { b.flushArmed(gen) })
	}
	return p
}

// Flush hands the current queue to the worker immediately.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Close flushes the queue, waits for every handed-off batch to complete and
// stops the worker. Later requests fail with ErrClosed.
func (b *Batcher) Close() error {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		<-b.stopped
		return nil
	}
	b.flushLocked()
	b.stopping = true
	b.signal()
	b.mu.Unlock()

	<-b.stopped
	return nil
}

// Queued returns the number of requests waiting for the next flush.
func (b *Batcher) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Batcher) flushArmed(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer == nil || gen != b.armed {
		return
	}
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.queue) == 0 {
		return
	}
	b.batches = append(b.batches, b.queue)
	b.queue = nil
	b.signal()
}

func (b *Batcher) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Batcher) run() {
	defer close(b.stopped)
	for {
		b.mu.Lock()
		if len(b.batches) == 0 {
			stopping := b.stopping
			b.mu.Unlock()
			if stopping {
				return
			}
			<-b.wake
			continue
		}
		batch := b.batches[0]
		b.batches[0] = nil
		b.batches = b.batches[1:]
		b.mu.Unlock()

		b.sign(batch)
	}
}

func (b *Batcher) sign(batch []*Pending) {
	targets := make([]backend.SignTarget, 0, len(batch))
	seen := make(map[string]bool, len(batch))
	for _, p := range batch {
		if !seen[p.ID] {
			seen[p.ID] = true
			targets = append(targets, p.target)
		}
	}
	metrics.RecordBatch(len(targets))

	ctx := context.Background()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	sigs, err := b.signer.Sign(ctx, targets)
	if err != nil {
		if !errors.Is(err, types.ErrBackend) {
			err = fmt.Errorf("%w: %w", types.ErrBackend, err)
		}
		b.log.Warn("batch sign failed", logger.Int("size", len(targets)), logger.Error(err))
		for _, p := range batch {
			p.complete(nil, err)
		}
		return
	}

	byID := backend.Index(sigs)
	var missing []string
	for _, t := range targets {
		if len(byID[t.ID]) == 0 {
			missing = append(missing, t.ID)
		}
	}
	if len(missing) > 0 {
		b.log.Warn("backend omitted signatures",
			logger.Int("size", len(targets)), logger.Int("missing", len(missing)))
	}

	for _, p := range batch {
		sig := byID[p.ID]
		switch {
		case len(missing) > 0 && b.failWholeBatch:
			p.complete(nil, fmt.Errorf("%w: %w: %d of %d ids unsigned", types.ErrBackend, ErrNoSignature, len(missing), len(targets)))
		case len(sig) == 0:
			p.complete(nil, fmt.Errorf("%w: %w: %s", types.ErrBackend, ErrNoSignature, p.ID))
		default:
			p.complete(sig, nil)
		}
	}
}

// TemplateID returns the hex sha256 of template's RFC 8785 canonical JSON.
func TemplateID(template any) (string, error) {
	raw, err := json.Marshal(template)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
