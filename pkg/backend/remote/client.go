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

// Package remote implements backend.Backend against a threshold signing node
// reached over a websocket. Requests and responses are JSON objects matched by
// id, so any number of calls may be in flight on the one connection.
package remote

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/metrics"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

var errReset = errors.New("connection reset")

// Client is a backend.Backend talking to one signing node.
type Client struct {
	cfg Config
	log logger.Logger
	seq atomic.Uint64

	// dialMu serializes dials so mu is never held across network I/O.
	dialMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan response
	groupKey []byte
	closed   bool
}

// Dial connects to the node and resolves the group key.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	c := &Client{
		cfg:     cfg,
		log:     cfg.Logger.With(logger.String("node", cfg.URL)),
		pending: make(map[string]chan response),
	}

	if cfg.GroupPublicKey != "" {
		key, err := hex.DecodeString(cfg.GroupPublicKey)
		if err != nil || len(key) != 33 {
			return nil, fmt.Errorf("invalid group public key")
		}
		c.groupKey = key
	}

	if _, err := c.connection(ctx); err != nil {
		return nil, err
	}
	if c.groupKey == nil {
		if _, err := c.Status(ctx); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Sign implements backend.Backend.
func (c *Client) Sign(ctx context.Context, targets []backend.SignTarget) ([]backend.Signature, error) {
	var res SignResult
	if err := c.call(ctx, MethodSign, SignParams{Targets: targets}, &res); err != nil {
		return nil, err
	}
	return res.Signatures, nil
}

// ECDH implements backend.Backend.
func (c *Client) ECDH(ctx context.Context, peer []byte) ([]byte, error) {
	if _, err := backend.ParsePeer(peer); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}
	var res ECDHResult
	if err := c.call(ctx, MethodECDH, ECDHParams{Peer: peer}, &res); err != nil {
		return nil, err
	}
	if len(res.Secret) != 32 {
		return nil, fmt.Errorf("%w: ecdh secret has length %d", types.ErrBackend, len(res.Secret))
	}
	return res.Secret, nil
}

// GroupPublicKey implements backend.Backend.
func (c *Client) GroupPublicKey() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groupKey
}

// Status implements backend.StatusReporter. The first successful status
// supplies the group key when none was configured.
func (c *Client) Status(ctx context.Context) (*backend.Status, error) {
	var status backend.Status
	if err := c.call(ctx, MethodStatus, struct{}{}, &status); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.groupKey == nil && status.GroupKey != "" {
		key, err := hex.DecodeString(status.GroupKey)
		if err != nil || len(key) != 33 {
			return nil, fmt.Errorf("%w: node reported invalid group key", types.ErrBackend)
		}
		c.groupKey = key
	}
	return &status, nil
}

// Reset implements backend.Resetter by dropping the connection, failing any
// in-flight calls, and reconnecting.
func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.drop(conn, errReset)
	}
	if _, err := c.connection(ctx); err != nil {
		return err
	}
	c.log.Info("node connection reset")
	return nil
}

// Close closes the connection. In-flight calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.drop(conn, backend.ErrClosed)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params, out any) (err error) {
	start := time.Now()
	defer func() {
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		metrics.RecordBackendCall(method, status, time.Since(start).Seconds())
	}()

	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}

	id := strconv.FormatUint(c.seq.Add(1), 10)
	ch := make(chan response, 1)
	if !c.register(conn, id, ch) {
		return fmt.Errorf("%w: %s: connection lost before send", types.ErrBackend, method)
	}

	if err := wsjson.Write(ctx, conn, request{ID: id, Method: method, Params: params}); err != nil {
		c.forget(id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.drop(conn, err)
		return fmt.Errorf("%w: write %s: %v", types.ErrBackend, method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%w: %s: %s", types.ErrBackend, method, resp.Error.Message)
		}
		if out != nil {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("%w: decode %s result: %v", types.ErrBackend, method, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

// current returns the live connection, or nil when one must be dialed.
func (c *Client) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: %w", types.ErrBackend, backend.ErrClosed)
	}
	return c.conn, nil
}

func (c *Client) connection(ctx context.Context) (*websocket.Conn, error) {
	if conn, err := c.current(); conn != nil || err != nil {
		return conn, err
	}

	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if conn, err := c.current(); conn != nil || err != nil {
		return conn, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	var opts websocket.DialOptions
	if c.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.cfg.Token}}
	}
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, &opts)
	if err != nil {
		return nil, fmt.Errorf("%w: dial node: %v", types.ErrBackend, err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.CloseNow()
		return nil, fmt.Errorf("%w: %w", types.ErrBackend, backend.ErrClosed)
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	c.log.Debug("connected to node")
	return conn, nil
}

// register records ch as the reply slot for id, but only while conn is still
// the live connection. Otherwise the read loop that would answer it is gone.
func (c *Client) register(conn *websocket.Conn, id string, ch chan response) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn != conn {
		return false
	}
	c.pending[id] = ch
	return true
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var resp response
		if err := wsjson.Read(context.Background(), conn, &resp); err != nil {
			c.drop(conn, err)
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if !ok {
			c.log.Debug("dropping response for unknown request", logger.String("id", resp.ID))
			continue
		}
		ch <- resp
	}
}

// drop retires conn if it is still current and fails every pending call.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan response)
	closed := c.closed
	c.mu.Unlock()

	for id, ch := range pending {
		ch <- response{ID: id, Error: &rpcError{Message: "connection lost: " + cause.Error()}}
	}
	_ = conn.CloseNow()

	if !closed && !errors.Is(cause, errReset) {
		c.log.Warn("node connection lost", logger.Error(cause))
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

var (
	_ backend.Backend        = (*Client)(nil)
	_ backend.StatusReporter = (*Client)(nil)
	_ backend.Resetter       = (*Client)(nil)
)
