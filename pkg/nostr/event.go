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

// Package nostr holds the event model signed through the threshold backend:
// canonical serialization, id derivation and BIP-340 verification.
package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var (
	// ErrInvalidEvent is returned for events with malformed fields.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrIDMismatch is returned when an event's id is not the hash of its
	// content.
	ErrIDMismatch = errors.New("event id mismatch")

	// ErrBadSignature is returned when an event's signature does not verify.
	ErrBadSignature = errors.New("invalid event signature")
)

// Event is a signed nostr event.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Serialize returns the commitment [0,pubkey,created_at,kind,tags,content]
// encoded as compact JSON with only the escapes the event format requires.
func (e *Event) Serialize() []byte {
	var b strings.Builder
	b.WriteString(`[0,`)
	writeString(&b, e.PubKey)
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(e.CreatedAt, 10))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(e.Kind))
	b.WriteString(`,[`)
	for i, tag := range e.Tags {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		for j, v := range tag {
			if j > 0 {
				b.WriteByte(',')
			}
			writeString(&b, v)
		}
		b.WriteByte(']')
	}
	b.WriteString(`],`)
	writeString(&b, e.Content)
	b.WriteByte(']')
	return []byte(b.String())
}

// ComputeID returns the hex sha256 of Serialize.
func (e *Event) ComputeID() string {
	sum := sha256.Sum256(e.Serialize())
	return hex.EncodeToString(sum[:])
}

// Validate checks field shapes without checking the id or signature.
func (e *Event) Validate() error {
	pub, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pub) != 32 {
		return fmt.Errorf("%w: pubkey must be 32 bytes of hex", ErrInvalidEvent)
	}
	if e.CreatedAt < 0 {
		return fmt.Errorf("%w: negative created_at", ErrInvalidEvent)
	}
	if e.Kind < 0 || e.Kind > 65535 {
		return fmt.Errorf("%w: kind %d out of range", ErrInvalidEvent, e.Kind)
	}
	if !utf8.ValidString(e.Content) {
		return fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidEvent)
	}
	return nil
}

// CheckID verifies that ID matches the event content.
func (e *Event) CheckID() error {
	if want := e.ComputeID(); e.ID != want {
		return fmt.Errorf("%w: have %s, want %s", ErrIDMismatch, e.ID, want)
	}
	return nil
}

// Verify checks the id and the BIP-340 signature against PubKey.
func (e *Event) Verify() error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := e.CheckID(); err != nil {
		return err
	}

	pubBytes, _ := hex.DecodeString(e.PubKey)
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	id, _ := hex.DecodeString(e.ID)
	if !sig.Verify(id, pub) {
		return ErrBadSignature
	}
	return nil
}

// Sign fills PubKey, ID and Sig using priv.
func (e *Event) Sign(priv *btcec.PrivateKey) error {
	e.PubKey = hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
	e.ID = e.ComputeID()
	id, _ := hex.DecodeString(e.ID)
	sig, err := schnorr.Sign(priv, id)
	if err != nil {
		return err
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

const hexDigits = "0123456789abcdef"

func writeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if c < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xf])
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
}
