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
	"encoding/json"
	"fmt"

	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/nostr"
	"github.com/jeremyhahn/go-frostsigner/pkg/nostr/nip04"
	"github.com/jeremyhahn/go-frostsigner/pkg/nostr/nip44"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

func (r *Router) groupXOnly() string {
	return hex.EncodeToString(backend.XOnly(r.cfg.Backend.GroupPublicKey()))
}

func (r *Router) getPublicKey(_ context.Context, _ *call) (any, error) {
	return r.groupXOnly(), nil
}

func (r *Router) getRelays(_ context.Context, _ *call) (any, error) {
	relays := map[string]json.RawMessage{}
	if r.cfg.Settings == nil {
		return relays, nil
	}
	if _, err := storage.GetJSON(r.cfg.Settings, storage.RelaysKey, &relays); err != nil {
		return nil, fmt.Errorf("read relays: %w", err)
	}
	return relays, nil
}

// eventTemplate is an unsigned event as sent by a page. Missing fields are
// filled in before the id is computed.
type eventTemplate struct {
	ID        string     `json:"id,omitempty"`
	PubKey    string     `json:"pubkey,omitempty"`
	CreatedAt *int64     `json:"created_at,omitempty"`
	Kind      *int       `json:"kind"`
	Tags      [][]string `json:"tags,omitempty"`
	Content   string     `json:"content"`
}

type signEventParams struct {
	Event *eventTemplate `json:"event"`
}

func prepareSignEvent(r *Router, c *call) error {
	var params signEventParams
	if err := decodeParams(c, &params); err != nil {
		return err
	}
	tmpl := params.Event
	if tmpl == nil {
		return fmt.Errorf("%w: missing event", types.ErrMalformedInput)
	}
	if tmpl.Kind == nil {
		return fmt.Errorf("%w: missing event kind", types.ErrMalformedInput)
	}

	group := r.groupXOnly()
	if tmpl.PubKey != "" && tmpl.PubKey != group {
		return fmt.Errorf("%w: event pubkey %s is not the signer's key", types.ErrMalformedInput, tmpl.PubKey)
	}

	ev := &nostr.Event{
		PubKey:  group,
		Kind:    *tmpl.Kind,
		Tags:    tmpl.Tags,
		Content: tmpl.Content,
	}
	if tmpl.CreatedAt != nil {
		ev.CreatedAt = *tmpl.CreatedAt
	} else {
		ev.CreatedAt = r.clock.Now().Unix()
	}
	if ev.Tags == nil {
		ev.Tags = [][]string{}
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}

	ev.ID = ev.ComputeID()
	if tmpl.ID != "" && tmpl.ID != ev.ID {
		return fmt.Errorf("%w: %v: have %s, want %s", types.ErrMalformedInput, nostr.ErrIDMismatch, tmpl.ID, ev.ID)
	}

	c.kind = &ev.Kind
	c.payload = ev
	c.state = ev
	return nil
}

func (r *Router) signEvent(ctx context.Context, c *call) (any, error) {
	if r.cfg.Batcher == nil {
		return nil, fmt.Errorf("%w: no signing batcher configured", types.ErrNotInitialized)
	}
	ev := c.state.(*nostr.Event)

	sig, err := r.cfg.Batcher.Enqueue(ev.ID).Wait(ctx)
	if err != nil {
		return nil, backendErr("sign event", err)
	}
	ev.Sig = hex.EncodeToString(sig)

	if r.cfg.VerifySignatures {
		if err := ev.Verify(); err != nil {
			return nil, fmt.Errorf("%w: backend returned an invalid event signature: %v", types.ErrBackend, err)
		}
	}
	return ev, nil
}

type cipherParams struct {
	Peer       string `json:"peer"`
	Plaintext  string `json:"plaintext,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`

	peer []byte
}

func prepareCipher(_ *Router, c *call) error {
	var params cipherParams
	if err := decodeParams(c, &params); err != nil {
		return err
	}
	peer, err := hex.DecodeString(params.Peer)
	if err != nil {
		return fmt.Errorf("%w: peer: %v", types.ErrMalformedInput, err)
	}
	if _, err := backend.ParsePeer(peer); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}
	params.peer = peer
	c.state = &params
	return nil
}

func (r *Router) sharedSecret(ctx context.Context, c *call) (*cipherParams, []byte, error) {
	params := c.state.(*cipherParams)
	shared, err := r.cfg.Backend.ECDH(ctx, params.peer)
	if err != nil {
		return nil, nil, backendErr("ecdh", err)
	}
	return params, shared, nil
}

func (r *Router) nip04Encrypt(ctx context.Context, c *call) (any, error) {
	params, shared, err := r.sharedSecret(ctx, c)
	if err != nil {
		return nil, err
	}
	out, err := nip04.Encrypt(shared, params.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}
	return out, nil
}

func (r *Router) nip04Decrypt(ctx context.Context, c *call) (any, error) {
	params, shared, err := r.sharedSecret(ctx, c)
	if err != nil {
		return nil, err
	}
	out, err := nip04.Decrypt(shared, params.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}
	return out, nil
}

func (r *Router) nip44Encrypt(ctx context.Context, c *call) (any, error) {
	params, shared, err := r.sharedSecret(ctx, c)
	if err != nil {
		return nil, err
	}
	key, err := nip44.ConversationKey(shared)
	if err != nil {
		return nil, backendErr("conversation key", err)
	}
	out, err := nip44.Encrypt(key, params.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}
	return out, nil
}

func (r *Router) nip44Decrypt(ctx context.Context, c *call) (any, error) {
	params, shared, err := r.sharedSecret(ctx, c)
	if err != nil {
		return nil, err
	}
	key, err := nip44.ConversationKey(shared)
	if err != nil {
		return nil, backendErr("conversation key", err)
	}
	out, err := nip44.Decrypt(key, params.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}
	return out, nil
}
