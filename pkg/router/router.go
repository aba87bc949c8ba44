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

// Package router is the single entry point for page requests. It rate limits
// each host, settles permission through the arbiter and the prompt manager,
// then dispatches to the handler for the operation and normalizes the outcome
// into the wire response.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/batch"
	"github.com/jeremyhahn/go-frostsigner/pkg/clock"
	"github.com/jeremyhahn/go-frostsigner/pkg/metrics"
	"github.com/jeremyhahn/go-frostsigner/pkg/permission"
	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
	"github.com/jeremyhahn/go-frostsigner/pkg/prompt"
	"github.com/jeremyhahn/go-frostsigner/pkg/ratelimit"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
	"github.com/jeremyhahn/go-frostsigner/pkg/wallet"
)

// Request is a message from a web page.
type Request struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
	Host   string          `json:"host"`
}

// Response carries either Result or Error.
type Response struct {
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error is the wire form of a failed request.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Evaluator returns the standing decision for a request.
type Evaluator interface {
	Evaluate(ctx context.Context, host string, operation types.Operation, kind *int) (policy.Status, error)
}

// Authorizer obtains a decision from the user.
type Authorizer interface {
	Authorize(ctx context.Context, req prompt.Request) (bool, error)
}

// Enqueuer hands event ids to the signing batcher.
type Enqueuer interface {
	Enqueue(id string) *batch.Pending
}

// Config wires a Router. Backend and Batcher may be nil until the signer is
// set up; operations that need them then fail with ErrNotInitialized.
type Config struct {
	Backend  backend.Backend
	Batcher  Enqueuer
	Arbiter  Evaluator
	Prompts  Authorizer
	Settings storage.Backend
	Utxos    wallet.UtxoSource
	Limiter  *ratelimit.Limiter
	Clock    clock.Clock
	Logger   logger.Logger

	// Network selects the Bitcoin network for wallet operations.
	Network string

	// VerifySignatures checks every signature the backend returns for an
	// event before handing the event back.
	VerifySignatures bool
}

type handlerFunc func(ctx context.Context, call *call) (any, error)

// call is one request being served.
type call struct {
	host      string
	operation types.Operation
	params    json.RawMessage

	// kind and payload are filled by prepare and shown in the prompt.
	kind    *int
	payload any
	state   any
}

type route struct {
	// prepare validates params before authorization. Optional.
	prepare func(r *Router, c *call) error
	handle  handlerFunc

	// needsBackend fails the request with ErrNotInitialized when no backend
	// is configured.
	needsBackend bool
}

// Router dispatches page requests.
type Router struct {
	cfg    Config
	routes map[types.Operation]route
	clock  clock.Clock
	log    logger.Logger
}

// New returns a Router for cfg. Arbiter and Prompts are required.
func New(cfg Config) (*Router, error) {
	if cfg.Arbiter == nil {
		return nil, errors.New("router: arbiter is required")
	}
	if cfg.Prompts == nil {
		return nil, errors.New("router: prompt manager is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	r := &Router{
		cfg:   cfg,
		clock: cfg.Clock,
		log:   cfg.Logger,
	}
	r.routes = map[types.Operation]route{
		types.OpGetPublicKey: {handle: r.getPublicKey, needsBackend: true},
		types.OpGetRelays:    {handle: r.getRelays},
		types.OpSignEvent:    {prepare: prepareSignEvent, handle: r.signEvent, needsBackend: true},

		types.OpNip04Encrypt: {prepare: prepareCipher, handle: r.nip04Encrypt, needsBackend: true},
		types.OpNip04Decrypt: {prepare: prepareCipher, handle: r.nip04Decrypt, needsBackend: true},
		types.OpNip44Encrypt: {prepare: prepareCipher, handle: r.nip44Encrypt, needsBackend: true},
		types.OpNip44Decrypt: {prepare: prepareCipher, handle: r.nip44Decrypt, needsBackend: true},

		types.OpWalletGetAccount: {handle: r.walletGetAccount, needsBackend: true},
		types.OpWalletGetUtxos:   {handle: r.walletGetUtxos, needsBackend: true},
		types.OpWalletSignPsbt:   {prepare: prepareSignPsbt, handle: r.walletSignPsbt, needsBackend: true},

		types.OpLinkResolve: {prepare: prepareLink, handle: r.linkResolve},
		types.OpNodeStatus:  {handle: r.nodeStatus},
		types.OpNodeReset:   {handle: r.nodeReset, needsBackend: true},
	}
	return r, nil
}

// Handle serves req and never returns a nil Response.
func (r *Router) Handle(ctx context.Context, req Request) *Response {
	start := time.Now()
	log := logger.FromContext(ctx, r.log).With(logger.Host(req.Host), logger.Operation(req.Type))

	result, err := r.handle(ctx, req)
	duration := time.Since(start).Seconds()
	if err != nil {
		code := types.Code(err)
		metrics.RecordRequest(req.Type, code, duration)
		if code == types.CodeInternal || code == types.CodeBackend {
			log.Error("request failed", logger.Error(err))
		} else {
			log.Debug("request refused", logger.String("code", code), logger.Error(err))
		}
		return &Response{Error: &Error{Message: err.Error(), Code: code}}
	}

	metrics.RecordRequest(req.Type, metrics.StatusSuccess, duration)
	return &Response{Result: result}
}

func (r *Router) handle(ctx context.Context, req Request) (any, error) {
	op := types.Operation(req.Type)
	rt, ok := r.routes[op]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownOperation, req.Type)
	}
	if req.Host == "" {
		return nil, fmt.Errorf("%w: missing host", types.ErrMalformedInput)
	}
	if r.cfg.Limiter != nil && !r.cfg.Limiter.Allow(req.Host) {
		return nil, fmt.Errorf("%w: %s", types.ErrRateLimited, req.Host)
	}
	if rt.needsBackend && r.cfg.Backend == nil {
		return nil, fmt.Errorf("%w: no signing backend configured", types.ErrNotInitialized)
	}

	c := &call{host: req.Host, operation: op, params: req.Params}
	if rt.prepare != nil {
		if err := rt.prepare(r, c); err != nil {
			return nil, err
		}
	}

	if err := r.authorize(ctx, c); err != nil {
		return nil, err
	}
	return rt.handle(ctx, c)
}

// authorize returns nil once the request may proceed. Standing policies are
// honoured without queuing for the prompt lock.
func (r *Router) authorize(ctx context.Context, c *call) error {
	if permission.Classify(c.operation) == permission.Exempt {
		return nil
	}

	status, err := r.cfg.Arbiter.Evaluate(ctx, c.host, c.operation, c.kind)
	if err != nil {
		return err
	}
	switch status {
	case policy.Allow:
		return nil
	case policy.Deny:
		return fmt.Errorf("%w: %s may not %s", types.ErrPermissionDenied, c.host, c.operation)
	}

	accepted, err := r.cfg.Prompts.Authorize(ctx, prompt.Request{
		Host:      c.host,
		Operation: c.operation,
		Params:    c.params,
		Kind:      c.kind,
		Payload:   c.payload,
	})
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("%w: %s was refused %s", types.ErrPermissionDenied, c.host, c.operation)
	}
	return nil
}

// decodeParams unmarshals c.params into v. Empty params decode as {}.
func decodeParams(c *call, v any) error {
	if len(c.params) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.params, v); err != nil {
		return fmt.Errorf("%w: params: %v", types.ErrMalformedInput, err)
	}
	return nil
}

// backendErr marks err as a backend failure unless it already carries a
// more specific class.
func backendErr(op string, err error) error {
	switch {
	case errors.Is(err, types.ErrBackend),
		errors.Is(err, types.ErrMalformedInput),
		errors.Is(err, types.ErrNotInitialized),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %s: %v", types.ErrBackend, op, err)
}
