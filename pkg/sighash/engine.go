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

// Package sighash computes BIP-341 signature hashes for the Taproot inputs of
// a PSBT and splices returned signatures back into it. Every check runs
// before anything is returned or mutated, so a failure never leaves a
// partially processed packet.
package sighash

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", types.ErrMalformedInput, fmt.Sprintf(format, args...))
}

// Decode parses a base64 PSBT.
func Decode(b64 string) (*psbt.Packet, error) {
	p, err := psbt.NewFromRawBytes(strings.NewReader(strings.TrimSpace(b64)), true)
	if err != nil {
		return nil, malformed("decode psbt: %v", err)
	}
	return p, nil
}

// Encode serializes p as base64.
func Encode(p *psbt.Packet) (string, error) {
	s, err := p.B64Encode()
	if err != nil {
		return "", fmt.Errorf("encode psbt: %w", err)
	}
	return s, nil
}

// IsSignable reports why in cannot be signed, or nil.
func IsSignable(in *psbt.PInput) error {
	switch {
	case in.WitnessUtxo == nil:
		return malformed("missing witness utxo")
	case len(in.FinalScriptWitness) > 0:
		return malformed("input already finalized")
	case len(in.TaprootKeySpendSig) > 0:
		return malformed("input already has a key-path signature")
	}
	if _, err := witnessProgram(in.WitnessUtxo.PkScript); err != nil {
		return err
	}
	return nil
}

// witnessProgram returns the 32-byte output key of a version-1 witness
// program.
func witnessProgram(pkScript []byte) ([]byte, error) {
	version, program, err := txscript.ExtractWitnessProgramInfo(pkScript)
	if err != nil {
		return nil, malformed("not a witness program: %v", err)
	}
	if version != 1 || len(program) != 32 {
		return nil, malformed("not a taproot output (version %d)", version)
	}
	return program, nil
}

// prevOutputs collects the witness utxo of every input. BIP-341 sighashes
// commit to all spent amounts and scripts, so one missing utxo fails the
// whole packet.
func prevOutputs(p *psbt.Packet) (*txscript.MultiPrevOutFetcher, error) {
	if p.UnsignedTx == nil || len(p.Inputs) != len(p.UnsignedTx.TxIn) {
		return nil, malformed("psbt inputs do not match the unsigned transaction")
	}

	fetcher := txscript.NewMultiPrevOutFetcher(make(map[wire.OutPoint]*wire.TxOut, len(p.Inputs)))
	for i := range p.Inputs {
		if p.Inputs[i].WitnessUtxo == nil {
			return nil, malformed("input %d: missing witness utxo", i)
		}
		fetcher.AddPrevOut(p.UnsignedTx.TxIn[i].PreviousOutPoint, p.Inputs[i].WitnessUtxo)
	}
	return fetcher, nil
}

// DefaultManifest assigns pubkey to every signable input it controls: inputs
// whose output key is pubkey tweaked by the input's merkle root, and inputs
// with a leaf script that names pubkey.
func DefaultManifest(p *psbt.Packet, pubkey []byte) (Manifest, error) {
	xonly, pub, err := parseXOnly(pubkey)
	if err != nil {
		return nil, err
	}

	var inputs []int
	for i := range p.Inputs {
		in := &p.Inputs[i]
		if IsSignable(in) != nil {
			continue
		}
		program, _ := witnessProgram(in.WitnessUtxo.PkScript)
		outputKey := txscript.ComputeTaprootOutputKey(pub, in.TaprootMerkleRoot)
		if bytes.Equal(schnorr.SerializePubKey(outputKey), program) || len(leavesFor(in, xonly)) > 0 {
			inputs = append(inputs, i)
		}
	}
	if len(inputs) == 0 {
		return Manifest{}, nil
	}
	return Manifest{{PubKey: hex.EncodeToString(xonly), Inputs: inputs}}, nil
}

// ComputeSighashes returns every sighash the manifest calls for. Inputs that
// carry leaf scripts produce one script-path entry per leaf, each after its
// control block is checked against the output key; other inputs produce one
// key-path entry.
func ComputeSighashes(p *psbt.Packet, manifest Manifest) ([]Entry, error) {
	fetcher, err := prevOutputs(p)
	if err != nil {
		return nil, err
	}
	tx := p.UnsignedTx
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	var entries []Entry
	for _, m := range manifest {
		pubBytes, err := hex.DecodeString(m.PubKey)
		if err != nil {
			return nil, malformed("manifest pubkey %q: %v", m.PubKey, err)
		}
		xonly, pub, err := parseXOnly(pubBytes)
		if err != nil {
			return nil, err
		}

		for _, idx := range m.Inputs {
			if idx < 0 || idx >= len(p.Inputs) {
				return nil, malformed("input index %d out of range", idx)
			}
			in := &p.Inputs[idx]
			if err := IsSignable(in); err != nil {
				return nil, fmt.Errorf("input %d: %w", idx, err)
			}
			if err := validSigHashType(in.SighashType); err != nil {
				return nil, malformed("input %d: %v", idx, err)
			}
			program, _ := witnessProgram(in.WitnessUtxo.PkScript)

			if len(in.TaprootLeafScript) > 0 {
				for _, leaf := range in.TaprootLeafScript {
					e, err := scriptEntry(sigHashes, tx, idx, fetcher, in, leaf, program, xonly)
					if err != nil {
						return nil, err
					}
					entries = append(entries, e)
				}
				continue
			}

			e, err := keyEntry(sigHashes, tx, idx, fetcher, in, program, xonly, pub)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func keyEntry(sigHashes *txscript.TxSigHashes, tx *wire.MsgTx, idx int, fetcher txscript.PrevOutputFetcher,
	in *psbt.PInput, program, xonly []byte, pub *btcec.PublicKey) (Entry, error) {

	root := in.TaprootMerkleRoot
	if len(root) != 0 && len(root) != 32 {
		return Entry{}, malformed("input %d: merkle root must be 32 bytes", idx)
	}
	outputKey := txscript.ComputeTaprootOutputKey(pub, root)
	if !bytes.Equal(schnorr.SerializePubKey(outputKey), program) {
		return Entry{}, malformed("input %d: output key is not the tweaked signing key", idx)
	}

	hash, err := txscript.CalcTaprootSignatureHash(sigHashes, in.SighashType, tx, idx, fetcher)
	if err != nil {
		return Entry{}, malformed("input %d: %v", idx, err)
	}
	tweak := chainhash.TaggedHash(chainhash.TagTapTweak, xonly, root)
	return Entry{
		InputIndex:    idx,
		Hash:          hash,
		SigHashType:   in.SighashType,
		SpendType:     KeySpend,
		ScriptVersion: txscript.BaseLeafVersion,
		PubKey:        xonly,
		TaprootTweak:  tweak[:],
	}, nil
}

func scriptEntry(sigHashes *txscript.TxSigHashes, tx *wire.MsgTx, idx int, fetcher txscript.PrevOutputFetcher,
	in *psbt.PInput, leaf *psbt.TaprootTapLeafScript, program, xonly []byte) (Entry, error) {

	cb, err := txscript.ParseControlBlock(leaf.ControlBlock)
	if err != nil {
		return Entry{}, malformed("input %d: control block: %v", idx, err)
	}
	if err := txscript.VerifyTaprootLeafCommitment(cb, program, leaf.Script); err != nil {
		return Entry{}, malformed("input %d: leaf is not committed to by the output: %v", idx, err)
	}

	tapLeaf := txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script)
	hash, err := txscript.CalcTapscriptSignaturehash(sigHashes, in.SighashType, tx, idx, fetcher, tapLeaf)
	if err != nil {
		return Entry{}, malformed("input %d: %v", idx, err)
	}
	leafHash := tapLeaf.TapHash()
	return Entry{
		InputIndex:    idx,
		Hash:          hash,
		SigHashType:   in.SighashType,
		SpendType:     ScriptSpend,
		ScriptVersion: leaf.LeafVersion,
		LeafHash:      leafHash[:],
		PubKey:        xonly,
	}, nil
}

// leavesFor returns the input's leaf scripts that push xonly.
func leavesFor(in *psbt.PInput, xonly []byte) []*psbt.TaprootTapLeafScript {
	var out []*psbt.TaprootTapLeafScript
	for _, leaf := range in.TaprootLeafScript {
		if bytes.Contains(leaf.Script, xonly) {
			out = append(out, leaf)
		}
	}
	return out
}

// ApplySignatures inserts sigs into p. Every signature must match an entry by
// hash and verify against the entry's key before p is modified.
func ApplySignatures(p *psbt.Packet, entries []Entry, sigs []SignatureResult) error {
	type match struct {
		entry *Entry
		sig   []byte
	}
	matches := make([]match, 0, len(sigs))

	for _, s := range sigs {
		e := findEntry(entries, s)
		if e == nil {
			return malformed("no sighash entry for signature over %x", s.Sighash)
		}
		if e.InputIndex < 0 || e.InputIndex >= len(p.Inputs) {
			return malformed("entry input %d out of range", e.InputIndex)
		}
		if e.SpendType != KeySpend && e.SpendType != ScriptSpend {
			return malformed("input %d: unknown spend type %d", e.InputIndex, int(e.SpendType))
		}
		if len(s.Signature) != schnorr.SignatureSize {
			return malformed("signature for input %d has length %d", e.InputIndex, len(s.Signature))
		}
		if err := verify(e, s.Signature); err != nil {
			return malformed("input %d: %v", e.InputIndex, err)
		}
		matches = append(matches, match{entry: e, sig: s.Signature})
	}

	for _, m := range matches {
		in := &p.Inputs[m.entry.InputIndex]
		sig := append([]byte(nil), m.sig...)
		switch m.entry.SpendType {
		case KeySpend:
			if m.entry.SigHashType != txscript.SigHashDefault {
				sig = append(sig, byte(m.entry.SigHashType))
			}
			in.TaprootKeySpendSig = sig
		case ScriptSpend:
			in.TaprootScriptSpendSig = append(in.TaprootScriptSpendSig, &psbt.TaprootScriptSpendSig{
				XOnlyPubKey: m.entry.PubKey,
				LeafHash:    m.entry.LeafHash,
				Signature:   sig,
				SigHash:     m.entry.SigHashType,
			})
		}
	}
	return nil
}

func findEntry(entries []Entry, s SignatureResult) *Entry {
	for i := range entries {
		e := &entries[i]
		if !bytes.Equal(e.Hash, s.Sighash) {
			continue
		}
		if len(s.PubKey) > 0 && !bytes.Equal(e.PubKey, xOnly(s.PubKey)) {
			continue
		}
		return e
	}
	return nil
}

func verify(e *Entry, sigBytes []byte) error {
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("parse signature: %v", err)
	}
	pub, err := schnorr.ParsePubKey(e.PubKey)
	if err != nil {
		return fmt.Errorf("parse pubkey: %v", err)
	}
	if e.SpendType == KeySpend {
		var t btcec.ModNScalar
		t.SetByteSlice(e.TaprootTweak)
		var tweakPoint, point, sum btcec.JacobianPoint
		btcec.ScalarBaseMultNonConst(&t, &tweakPoint)
		pub.AsJacobian(&point)
		btcec.AddNonConst(&point, &tweakPoint, &sum)
		sum.ToAffine()
		pub = btcec.NewPublicKey(&sum.X, &sum.Y)
	}
	if !sig.Verify(e.Hash, pub) {
		return fmt.Errorf("signature does not verify")
	}
	return nil
}

func parseXOnly(pubkey []byte) ([]byte, *btcec.PublicKey, error) {
	xonly := xOnly(pubkey)
	pub, err := schnorr.ParsePubKey(xonly)
	if err != nil {
		return nil, nil, malformed("invalid pubkey: %v", err)
	}
	return xonly, pub, nil
}

func xOnly(pub []byte) []byte {
	if len(pub) == 33 {
		return pub[1:]
	}
	return pub
}
