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

package nip44

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestCalcPaddedLen(t *testing.T) {
	tests := []struct{ in, want int }{
		{1, 32}, {16, 32}, {32, 32}, {33, 64}, {37, 64}, {45, 64}, {49, 64}, {64, 64},
		{65, 96}, {100, 128}, {111, 128}, {200, 224}, {250, 256}, {320, 320},
		{383, 384}, {384, 384}, {400, 448}, {500, 512}, {512, 512}, {515, 640},
		{700, 768}, {800, 896}, {900, 1024}, {1020, 1024}, {65536, 65536},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CalcPaddedLen(tt.in), "len %d", tt.in)
	}
}

func TestVector(t *testing.T) {
	sec1, _ := btcec.PrivKeyFromBytes(mustHex(t, strings.Repeat("00", 31)+"01"))
	sec2, _ := btcec.PrivKeyFromBytes(mustHex(t, strings.Repeat("00", 31)+"02"))

	pub2, err := schnorr.ParsePubKey(schnorr.SerializePubKey(sec2.PubKey()))
	require.NoError(t, err)
	key, err := ConversationKey(btcec.GenerateSharedSecret(sec1, pub2))
	require.NoError(t, err)
	assert.Equal(t, "c41c775356fd92eadc63ff5a0dc1da211b268cbea22316767095b2871ea1412d", hex.EncodeToString(key))

	nonce := mustHex(t, strings.Repeat("00", 31)+"01")
	want := "AgAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAABee0G5VSK0/9YypIObAtDKfYEAjD35uVkHyB0F4DwrcNaCXlCWZKaArsGrY6M9wnuTMxWfp1RTN9Xga8no+kF5Vsb"
	got, err := EncryptWithNonce(key, "a", nonce)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	pt, err := Decrypt(key, want)
	require.NoError(t, err)
	assert.Equal(t, "a", pt)
}

func TestRoundTripBetweenParties(t *testing.T) {
	alice, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bob, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	aliceKey, err := ConversationKey(btcec.GenerateSharedSecret(alice, bob.PubKey()))
	require.NoError(t, err)
	bobKey, err := ConversationKey(btcec.GenerateSharedSecret(bob, alice.PubKey()))
	require.NoError(t, err)
	require.Equal(t, aliceKey, bobKey)

	for _, n := range []int{1, 31, 32, 33, 255, 256, 257, 1000, 65535} {
		msg := strings.Repeat("z", n)
		ct, err := Encrypt(aliceKey, msg)
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(ct)
		require.NoError(t, err)
		assert.Equal(t, 1+32+2+CalcPaddedLen(n)+32, len(raw), "len %d", n)

		pt, err := Decrypt(bobKey, ct)
		require.NoError(t, err)
		assert.Equal(t, msg, pt)
	}
}

func TestEncrypt_Errors(t *testing.T) {
	key := make([]byte, 32)
	_, err := Encrypt(key, "")
	assert.ErrorIs(t, err, ErrPlaintextLength)
	_, err = Encrypt(key, strings.Repeat("a", 65536))
	assert.ErrorIs(t, err, ErrPlaintextLength)
	_, err = Encrypt(key[:16], "a")
	assert.Error(t, err)
	_, err = EncryptWithNonce(key, "a", []byte{1})
	assert.Error(t, err)
	_, err = ConversationKey([]byte{1})
	assert.Error(t, err)
}

func TestDecrypt_Errors(t *testing.T) {
	key := make([]byte, 32)
	key[0] = 1
	good, err := Encrypt(key, "secret message")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(good)
	require.NoError(t, err)

	flip := func(i int) string {
		b := append([]byte(nil), raw...)
		b[i] ^= 0x01
		return base64.StdEncoding.EncodeToString(b)
	}
	badVersion := append([]byte(nil), raw...)
	badVersion[0] = 1

	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"future version marker", "#" + good[1:], ErrUnsupportedVersion},
		{"empty", "", ErrUnsupportedVersion},
		{"too short", good[:100], ErrInvalidPayload},
		{"not base64", strings.Repeat("!", 132), ErrInvalidPayload},
		{"version byte", base64.StdEncoding.EncodeToString(badVersion), ErrUnsupportedVersion},
		{"tampered ciphertext", flip(40), ErrInvalidPayload},
		{"tampered mac", flip(len(raw) - 1), ErrInvalidPayload},
		{"tampered nonce", flip(5), ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(key, tt.payload)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	other := make([]byte, 32)
	_, err = Decrypt(other, good)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
