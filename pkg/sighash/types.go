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

package sighash

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// SpendType distinguishes Taproot key-path and script-path signatures.
type SpendType int

const (
	KeySpend SpendType = iota
	ScriptSpend
)

// String returns "key", "script" or "unknown".
func (s SpendType) String() string {
	switch s {
	case KeySpend:
		return "key"
	case ScriptSpend:
		return "script"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s SpendType) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Entry is one message the signer must sign for a PSBT input.
type Entry struct {
	InputIndex    int                           `json:"input_index"`
	Hash          []byte                        `json:"hash"`
	SigHashType   txscript.SigHashType          `json:"sig_hash_type"`
	SpendType     SpendType                     `json:"spend_type"`
	ScriptVersion txscript.TapscriptLeafVersion `json:"script_version"`

	// LeafHash is set for script-path entries.
	LeafHash []byte `json:"leaf_hash,omitempty"`

	// PubKey is the 32-byte x-only signing key.
	PubKey []byte `json:"pubkey"`

	// TaprootTweak is the key-path tweak scalar the signer must apply.
	TaprootTweak []byte `json:"taproot_tweak,omitempty"`
}

// ManifestEntry names the inputs a pubkey signs.
type ManifestEntry struct {
	PubKey string `json:"pubkey"`
	Inputs []int  `json:"inputs"`
}

// Manifest lists which keys sign which inputs.
type Manifest []ManifestEntry

// SignatureResult is a signature returned for the entry whose Hash equals
// Sighash. PubKey, when set, must also match the entry.
type SignatureResult struct {
	Sighash   []byte
	PubKey    []byte
	Signature []byte
}

func validSigHashType(t txscript.SigHashType) error {
	switch t {
	case txscript.SigHashDefault, txscript.SigHashAll, txscript.SigHashNone, txscript.SigHashSingle,
		txscript.SigHashAll | txscript.SigHashAnyOneCanPay,
		txscript.SigHashNone | txscript.SigHashAnyOneCanPay,
		txscript.SigHashSingle | txscript.SigHashAnyOneCanPay:
		return nil
	default:
		return fmt.Errorf("invalid taproot sighash type 0x%02x", uint32(t))
	}
}
