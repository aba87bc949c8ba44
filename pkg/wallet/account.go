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

// Package wallet derives the Taproot account controlled by the group key and
// looks up its unspent outputs.
package wallet

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

// Account is the key-path-only P2TR account of a group key.
type Account struct {
	Network   string `json:"network"`
	Address   string `json:"address"`
	PubKey    string `json:"pubkey"`
	OutputKey string `json:"output_key"`
	PkScript  string `json:"script_pubkey"`
}

// Params returns the chain parameters for a network name.
func Params(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(network) {
	case "", "mainnet", "main", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("%w: unknown network %q", types.ErrMalformedInput, network)
	}
}

// Derive returns the account for groupKey, a 32-byte x-only or 33-byte
// compressed key. The output key commits to no script tree.
func Derive(groupKey []byte, network string) (*Account, error) {
	params, err := Params(network)
	if err != nil {
		return nil, err
	}

	xonly := groupKey
	if len(groupKey) == 33 {
		xonly = groupKey[1:]
	}
	internal, err := schnorr.ParsePubKey(xonly)
	if err != nil {
		return nil, fmt.Errorf("%w: group key: %v", types.ErrMalformedInput, err)
	}

	outputKey := txscript.ComputeTaprootOutputKey(internal, nil)
	outputX := schnorr.SerializePubKey(outputKey)
	addr, err := btcutil.NewAddressTaproot(outputX, params)
	if err != nil {
		return nil, fmt.Errorf("taproot address: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("taproot script: %w", err)
	}

	return &Account{
		Network:   params.Name,
		Address:   addr.EncodeAddress(),
		PubKey:    hex.EncodeToString(xonly),
		OutputKey: hex.EncodeToString(outputX),
		PkScript:  hex.EncodeToString(script),
	}, nil
}
