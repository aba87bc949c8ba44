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

package remote

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
)

// Handler exposes a backend.Backend as a signing node speaking the same
// protocol Client uses. Requests on one connection are served concurrently.
type Handler struct {
	backend backend.Backend
	token   string
	log     logger.Logger
}

// NewHandler returns a Handler. An empty token disables authentication.
func NewHandler(b backend.Backend, token string, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{backend: b, token: token, log: log}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn("websocket accept failed", logger.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		var req inboundRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				h.log.Debug("node connection closed", logger.Error(err))
			}
			return
		}
		go func(req inboundRequest) {
			resp := h.dispatch(ctx, req)
			if err := wsjson.Write(ctx, conn, resp); err != nil {
				h.log.Debug("failed to write response", logger.String("id", req.ID), logger.Error(err))
			}
		}(req)
	}
}

func (h *Handler) dispatch(ctx context.Context, req inboundRequest) response {
	result, err := h.invoke(ctx, req)
	if err != nil {
		return response{ID: req.ID, Error: &rpcError{Message: err.Error()}}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return response{ID: req.ID, Error: &rpcError{Message: err.Error()}}
	}
	return response{ID: req.ID, Result: raw}
}

func (h *Handler) invoke(ctx context.Context, req inboundRequest) (any, error) {
	switch req.Method {
	case MethodSign:
		var p SignParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		sigs, err := h.backend.Sign(ctx, p.Targets)
		if err != nil {
			return nil, err
		}
		return SignResult{Signatures: sigs}, nil

	case MethodECDH:
		var p ECDHParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
		secret, err := h.backend.ECDH(ctx, p.Peer)
		if err != nil {
			return nil, err
		}
		return ECDHResult{Secret: secret}, nil

	case MethodStatus:
		if sr, ok := h.backend.(backend.StatusReporter); ok {
			return sr.Status(ctx)
		}
		return backend.Status{Ready: true, GroupKey: fmt.Sprintf("%x", h.backend.GroupPublicKey())}, nil

	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}
