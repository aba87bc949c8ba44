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

package router

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

type linkParams struct {
	URL string `json:"url"`
}

func prepareLink(_ *Router, c *call) error {
	var params linkParams
	if err := decodeParams(c, &params); err != nil {
		return err
	}
	raw := strings.TrimPrefix(params.URL, "nostr:")
	if raw == "" {
		return fmt.Errorf("%w: missing url", types.ErrMalformedInput)
	}
	c.state = raw
	return nil
}

// linkResolve expands the configured protocol handler template for a nostr:
// link. An empty string means no handler is configured.
func (r *Router) linkResolve(_ context.Context, c *call) (any, error) {
	raw := c.state.(string)
	if r.cfg.Settings == nil {
		return "", nil
	}

	var template string
	found, err := storage.GetJSON(r.cfg.Settings, storage.ProtocolHandlerKey, &template)
	if err != nil {
		return nil, fmt.Errorf("read protocol handler: %w", err)
	}
	if !found || template == "" {
		return "", nil
	}
	return strings.ReplaceAll(template, "{raw}", url.PathEscape(raw)), nil
}

// nodeStatus reports the backend's status. It succeeds without a backend so
// a settings page can show that the signer still needs setup.
func (r *Router) nodeStatus(ctx context.Context, _ *call) (any, error) {
	b := r.cfg.Backend
	if b == nil {
		return &backend.Status{Ready: false}, nil
	}
	if reporter, ok := b.(backend.StatusReporter); ok {
		st, err := reporter.Status(ctx)
		if err != nil {
			return nil, backendErr("status", err)
		}
		return st, nil
	}
	return &backend.Status{
		Ready:    true,
		GroupKey: hex.EncodeToString(b.GroupPublicKey()),
	}, nil
}

func (r *Router) nodeReset(ctx context.Context, _ *call) (any, error) {
	resetter, ok := r.cfg.Backend.(backend.Resetter)
	if !ok {
		return nil, fmt.Errorf("%w: backend cannot be reset", types.ErrUnknownOperation)
	}
	if err := resetter.Reset(ctx); err != nil {
		return nil, backendErr("reset", err)
	}
	r.log.Info("signing backend reset")
	return true, nil
}
