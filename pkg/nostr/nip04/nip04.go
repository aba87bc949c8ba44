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

// Package nip04 implements the legacy direct-message cipher: AES-256-CBC keyed
// by the raw ECDH x coordinate, encoded as base64(ciphertext)?iv=base64(iv).
package nip04

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload is returned for ciphertexts that cannot be decoded or
// decrypted.
var ErrInvalidPayload = errors.New("nip04: invalid payload")

// Encrypt encrypts plaintext under the 32-byte shared secret.
func Encrypt(shared []byte, plaintext string) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("nip04: read iv: %w", err)
	}
	return EncryptWithIV(shared, plaintext, iv)
}

// EncryptWithIV is Encrypt with a caller-chosen IV.
func EncryptWithIV(shared []byte, plaintext string, iv []byte) (string, error) {
	block, err := newCipher(shared)
	if err != nil {
		return "", err
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("nip04: iv must be %d bytes", aes.BlockSize)
	}

	padded := pad([]byte(plaintext))
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return base64.StdEncoding.EncodeToString(ct) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt reverses Encrypt.
func Decrypt(shared []byte, payload string) (string, error) {
	block, err := newCipher(shared)
	if err != nil {
		return "", err
	}

	ctPart, ivPart, ok := strings.Cut(payload, "?iv=")
	if !ok {
		return "", fmt.Errorf("%w: missing iv", ErrInvalidPayload)
	}
	ct, err := base64.StdEncoding.DecodeString(ctPart)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrInvalidPayload, err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil || len(iv) != aes.BlockSize {
		return "", fmt.Errorf("%w: iv", ErrInvalidPayload)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d", ErrInvalidPayload, len(ct))
	}

	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	pt, err = unpad(pt)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func newCipher(shared []byte) (cipher.Block, error) {
	if len(shared) != 32 {
		return nil, fmt.Errorf("nip04: shared secret must be 32 bytes, got %d", len(shared))
	}
	return aes.NewCipher(shared)
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: padding", ErrInvalidPayload)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: padding", ErrInvalidPayload)
		}
	}
	return b[:len(b)-n], nil
}
