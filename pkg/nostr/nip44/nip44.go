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

// Package nip44 implements version 2 of the nostr encrypted payload format:
// an HKDF conversation key, per-message ChaCha20 and HMAC-SHA256 keys, and
// length-hiding padding.
package nip44

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	version = 2

	minPlaintext = 1
	maxPlaintext = 65535

	nonceSize = 32
	macSize   = 32

	minPayload = 132
	maxPayload = 87472
	minRaw     = 99
	maxRaw     = 65603
)

var salt = []byte("nip44-v2")

var (
	// ErrInvalidPayload is returned for payloads that fail to decode,
	// authenticate or unpad.
	ErrInvalidPayload = errors.New("nip44: invalid payload")

	// ErrUnsupportedVersion is returned for payloads of another version.
	ErrUnsupportedVersion = errors.New("nip44: unsupported version")

	// ErrPlaintextLength is returned for empty or oversized plaintexts.
	ErrPlaintextLength = errors.New("nip44: plaintext length out of range")
)

// ConversationKey derives the long-lived key for a pair of parties from the
// x coordinate of their ECDH shared point.
func ConversationKey(sharedX []byte) ([]byte, error) {
	if len(sharedX) != 32 {
		return nil, fmt.Errorf("nip44: shared secret must be 32 bytes, got %d", len(sharedX))
	}
	return hkdf.Extract(sha256.New, sharedX, salt), nil
}

// Encrypt encrypts plaintext with a random nonce.
func Encrypt(conversationKey []byte, plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nip44: read nonce: %w", err)
	}
	return EncryptWithNonce(conversationKey, plaintext, nonce)
}

// EncryptWithNonce is Encrypt with a caller-chosen 32-byte nonce.
func EncryptWithNonce(conversationKey []byte, plaintext string, nonce []byte) (string, error) {
	if len(nonce) != nonceSize {
		return "", fmt.Errorf("nip44: nonce must be %d bytes", nonceSize)
	}
	chachaKey, chachaNonce, hmacKey, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}

	padded, err := pad(plaintext)
	if err != nil {
		return "", err
	}
	ct, err := xor(chachaKey, chachaNonce, padded)
	if err != nil {
		return "", err
	}
	mac := authenticate(hmacKey, nonce, ct)

	raw := make([]byte, 0, 1+nonceSize+len(ct)+macSize)
	raw = append(raw, version)
	raw = append(raw, nonce...)
	raw = append(raw, ct...)
	raw = append(raw, mac...)
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decrypt authenticates and decrypts payload.
func Decrypt(conversationKey []byte, payload string) (string, error) {
	n := len(payload)
	if n == 0 || payload[0] == '#' {
		return "", ErrUnsupportedVersion
	}
	if n < minPayload || n > maxPayload {
		return "", fmt.Errorf("%w: length %d", ErrInvalidPayload, n)
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(raw) < minRaw || len(raw) > maxRaw {
		return "", fmt.Errorf("%w: decoded length %d", ErrInvalidPayload, len(raw))
	}
	if raw[0] != version {
		return "", fmt.Errorf("%w: %d", ErrUnsupportedVersion, raw[0])
	}

	nonce := raw[1 : 1+nonceSize]
	ct := raw[1+nonceSize : len(raw)-macSize]
	mac := raw[len(raw)-macSize:]

	chachaKey, chachaNonce, hmacKey, err := messageKeys(conversationKey, nonce)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(mac, authenticate(hmacKey, nonce, ct)) {
		return "", fmt.Errorf("%w: bad mac", ErrInvalidPayload)
	}

	padded, err := xor(chachaKey, chachaNonce, ct)
	if err != nil {
		return "", err
	}
	return unpad(padded)
}

// CalcPaddedLen returns the padded length for an unpadded plaintext of n
// bytes: 32 up to 32 bytes, then multiples of a chunk that is 32 bytes up to
// 256 and an eighth of the next power of two beyond.
func CalcPaddedLen(n int) int {
	if n <= 32 {
		return 32
	}
	nextPower := 1
	for nextPower < n {
		nextPower <<= 1
	}
	chunk := 32
	if nextPower > 256 {
		chunk = nextPower / 8
	}
	return chunk * ((n-1)/chunk + 1)
}

func messageKeys(conversationKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	if len(conversationKey) != 32 {
		return nil, nil, nil, fmt.Errorf("nip44: conversation key must be 32 bytes")
	}
	keys := make([]byte, 76)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, conversationKey, nonce), keys); err != nil {
		return nil, nil, nil, fmt.Errorf("nip44: derive message keys: %w", err)
	}
	return keys[0:32], keys[32:44], keys[44:76], nil
}

func xor(key, nonce, in []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(in))
	c.XORKeyStream(out, in)
	return out, nil
}

func authenticate(key, nonce, ct []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(nonce)
	h.Write(ct)
	return h.Sum(nil)
}

func pad(plaintext string) ([]byte, error) {
	n := len(plaintext)
	if n < minPlaintext || n > maxPlaintext {
		return nil, fmt.Errorf("%w: %d", ErrPlaintextLength, n)
	}
	out := make([]byte, 2+CalcPaddedLen(n))
	binary.BigEndian.PutUint16(out, uint16(n))
	copy(out[2:], plaintext)
	return out, nil
}

func unpad(padded []byte) (string, error) {
	if len(padded) < 2 {
		return "", fmt.Errorf("%w: padding", ErrInvalidPayload)
	}
	n := int(binary.BigEndian.Uint16(padded))
	if n < minPlaintext || 2+n > len(padded) || len(padded) != 2+CalcPaddedLen(n) {
		return "", fmt.Errorf("%w: padding", ErrInvalidPayload)
	}
	return string(padded[2 : 2+n]), nil
}
