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

package nip04

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sharedPair(t *testing.T) ([]byte, []byte) {
	t.Helper()
	alice, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bob, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return btcec.GenerateSharedSecret(alice, bob.PubKey()), btcec.GenerateSharedSecret(bob, alice.PubKey())
}

func TestRoundTripBetweenParties(t *testing.T) {
	aliceKey, bobKey := sharedPair(t)
	require.Equal(t, aliceKey, bobKey)

	for _, msg := range []string{"", "hi", strings.Repeat("x", 16), "emoji ☕ and more", strings.Repeat("long ", 500)} {
		ct, err := Encrypt(aliceKey, msg)
		require.NoError(t, err)
		assert.Contains(t, ct, "?iv=")

		pt, err := Decrypt(bobKey, ct)
		require.NoError(t, err)
		assert.Equal(t, msg, pt)
	}
}

func TestEncryptWithIV_Deterministic(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	iv := bytes.Repeat([]byte{2}, 16)
	a, err := EncryptWithIV(key, "same", iv)
	require.NoError(t, err)
	b, err := EncryptWithIV(key, "same", iv)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasSuffix(a, "?iv=AgICAgICAgICAgICAgICAg=="))
}

func TestDecrypt_Errors(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	good, err := EncryptWithIV(key, "hello", bytes.Repeat([]byte{3}, 16))
	require.NoError(t, err)
	ctPart, _, _ := strings.Cut(good, "?iv=")

	tests := []struct {
		name    string
		payload string
	}{
		{"no iv", ctPart},
		{"bad base64", "!!!?iv=AwMDAwMDAwMDAwMDAwMDAw=="},
		{"short iv", ctPart + "?iv=AwM="},
		{"bad length", "AAAA?iv=AwMDAwMDAwMDAwMDAwMDAw=="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(key, tt.payload)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}

	_, err = Decrypt(key[:8], good)
	assert.Error(t, err)

	wrong := bytes.Repeat([]byte{9}, 32)
	if pt, err := Decrypt(wrong, good); err == nil {
		assert.NotEqual(t, "hello", pt)
	}
}
