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

// Package backend defines the contract between the signer and the threshold
// signing node. The signer never sees key shares; it hands the node message
// hashes (with an optional Taproot tweak) and peer keys, and receives BIP-340
// signatures and ECDH secrets back.
package backend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var (
	// ErrClosed is returned by calls on a closed backend.
	ErrClosed = errors.New("backend: closed")

	// ErrInvalidTarget is returned when a sign target is not a 32-byte hash or
	// carries an invalid tweak.
	ErrInvalidTarget = errors.New("backend: invalid sign target")

	// ErrInvalidPeer is returned when an ECDH peer key cannot be parsed.
	ErrInvalidPeer = errors.New("backend: invalid peer key")
)

// Hex is a byte slice carried as a lowercase hex string on the wire.
type Hex []byte

// MarshalJSON implements json.Marshaler.
func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Hex) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	*h = b
	return nil
}

// SignTarget asks for a signature over the 32-byte message whose hex encoding
// is ID. Tweak, when set, is the Taproot tweak scalar to add to the group key.
type SignTarget struct {
	ID    string `json:"id"`
	Tweak Hex    `json:"tweak,omitempty"`
}

// Signature is a 64-byte BIP-340 signature for the target with the same ID.
type Signature struct {
	ID        string `json:"id"`
	Signature Hex    `json:"signature"`
}

// Status describes the signing node.
type Status struct {
	Ready    bool           `json:"ready"`
	GroupKey string         `json:"group_key,omitempty"`
	Peers    int            `json:"peers"`
	Detail   map[string]any `json:"detail,omitempty"`
}

// Backend is the threshold signer.
type Backend interface {
	// Sign returns signatures for targets. Implementations may omit targets
	// they could not sign; callers match results by ID.
	Sign(ctx context.Context, targets []SignTarget) ([]Signature, error)

	// ECDH returns the x coordinate of the shared point with peer. Peer is a
	// 32-byte x-only or 33-byte compressed secp256k1 key.
	ECDH(ctx context.Context, peer []byte) ([]byte, error)

	// GroupPublicKey returns the 33-byte compressed group key.
	GroupPublicKey() []byte
}

// StatusReporter is implemented by backends that can describe their node.
type StatusReporter interface {
	Status(ctx context.Context) (*Status, error)
}

// Resetter is implemented by backends that can drop and re-establish their
// connection to the node.
type Resetter interface {
	Reset(ctx context.Context) error
}

// XOnly returns the 32-byte BIP-340 encoding of a compressed or x-only key.
func XOnly(pub []byte) []byte {
	switch len(pub) {
	case 33:
		return pub[1:]
	default:
		return pub
	}
}

// ParsePeer parses a 32-byte x-only or 33-byte compressed public key.
func ParsePeer(peer []byte) (*btcec.PublicKey, error) {
	var (
		pub *btcec.PublicKey
		err error
	)
	switch len(peer) {
	case 32:
		pub, err = schnorr.ParsePubKey(peer)
	case 33:
		pub, err = btcec.ParsePubKey(peer)
	default:
		return nil, fmt.Errorf("%w: length %d", ErrInvalidPeer, len(peer))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeer, err)
	}
	return pub, nil
}

// DecodeTarget returns the 32-byte message named by t.ID.
func DecodeTarget(t SignTarget) ([]byte, error) {
	msg, err := hex.DecodeString(t.ID)
	if err != nil || len(msg) != 32 {
		return nil, fmt.Errorf("%w: id %q", ErrInvalidTarget, t.ID)
	}
	if len(t.Tweak) != 0 && len(t.Tweak) != 32 {
		return nil, fmt.Errorf("%w: tweak length %d", ErrInvalidTarget, len(t.Tweak))
	}
	return msg, nil
}

// Index maps signatures by ID.
func Index(sigs []Signature) map[string][]byte {
	out := make(map[string][]byte, len(sigs))
	for _, s := range sigs {
		out[s.ID] = s.Signature
	}
	return out
}
