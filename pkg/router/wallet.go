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
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/batch"
	"github.com/jeremyhahn/go-frostsigner/pkg/sighash"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
	"github.com/jeremyhahn/go-frostsigner/pkg/wallet"
)

func (r *Router) account() (*wallet.Account, error) {
	return wallet.Derive(r.cfg.Backend.GroupPublicKey(), r.cfg.Network)
}

func (r *Router) walletGetAccount(_ context.Context, _ *call) (any, error) {
	return r.account()
}

func (r *Router) walletGetUtxos(ctx context.Context, _ *call) (any, error) {
	if r.cfg.Utxos == nil {
		return nil, fmt.Errorf("%w: no utxo source configured", types.ErrNotInitialized)
	}
	acct, err := r.account()
	if err != nil {
		return nil, err
	}
	return r.cfg.Utxos.Utxos(ctx, acct.Address)
}

type signPsbtParams struct {
	Psbt     string           `json:"psbt"`
	Manifest sighash.Manifest `json:"manifest,omitempty"`
}

type signPsbtState struct {
	packet  *psbt.Packet
	entries []sighash.Entry
}

// prepareSignPsbt computes every sighash before the user is asked, so a
// malformed PSBT never reaches a prompt.
func prepareSignPsbt(r *Router, c *call) error {
	var params signPsbtParams
	if err := decodeParams(c, &params); err != nil {
		return err
	}
	packet, err := sighash.Decode(params.Psbt)
	if err != nil {
		return err
	}

	group := backend.XOnly(r.cfg.Backend.GroupPublicKey())
	manifest := params.Manifest
	if manifest == nil {
		manifest, err = sighash.DefaultManifest(packet, group)
		if err != nil {
			return err
		}
	}
	groupHex := hex.EncodeToString(group)
	for _, m := range manifest {
		if !strings.EqualFold(m.PubKey, groupHex) {
			return fmt.Errorf("%w: manifest key %s is not the signer's key", types.ErrMalformedInput, m.PubKey)
		}
	}

	entries, err := sighash.ComputeSighashes(packet, manifest)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: no inputs to sign", types.ErrMalformedInput)
	}

	c.payload = map[string]any{"psbt": params.Psbt, "sighashes": entries}
	c.state = &signPsbtState{packet: packet, entries: entries}
	return nil
}

func (r *Router) walletSignPsbt(ctx context.Context, c *call) (any, error) {
	st := c.state.(*signPsbtState)

	targets := make([]backend.SignTarget, 0, len(st.entries))
	seen := make(map[string]bool, len(st.entries))
	for _, e := range st.entries {
		id := hex.EncodeToString(e.Hash)
		if seen[id] {
			continue
		}
		seen[id] = true
		targets = append(targets, backend.SignTarget{ID: id, Tweak: e.TaprootTweak})
	}

	sigs, err := r.cfg.Backend.Sign(ctx, targets)
	if err != nil {
		return nil, backendErr("sign psbt", err)
	}
	byID := backend.Index(sigs)

	results := make([]sighash.SignatureResult, 0, len(st.entries))
	for _, e := range st.entries {
		sig, ok := byID[hex.EncodeToString(e.Hash)]
		if !ok {
			return nil, fmt.Errorf("%w: input %d: %v", types.ErrBackend, e.InputIndex, batch.ErrNoSignature)
		}
		results = append(results, sighash.SignatureResult{Sighash: e.Hash, PubKey: e.PubKey, Signature: sig})
	}

	if err := sighash.ApplySignatures(st.packet, st.entries, results); err != nil {
		return nil, fmt.Errorf("%w: backend returned an unusable signature: %v", types.ErrBackend, err)
	}
	out, err := sighash.Encode(st.packet)
	if err != nil {
		return nil, err
	}
	return map[string]string{"psbt": out}, nil
}
