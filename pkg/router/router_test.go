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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend/local"
	"github.com/jeremyhahn/go-frostsigner/pkg/batch"
	"github.com/jeremyhahn/go-frostsigner/pkg/clock"
	"github.com/jeremyhahn/go-frostsigner/pkg/nostr"
	"github.com/jeremyhahn/go-frostsigner/pkg/nostr/nip04"
	"github.com/jeremyhahn/go-frostsigner/pkg/nostr/nip44"
	"github.com/jeremyhahn/go-frostsigner/pkg/permission"
	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
	"github.com/jeremyhahn/go-frostsigner/pkg/prompt"
	"github.com/jeremyhahn/go-frostsigner/pkg/ratelimit"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/sighash"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage/memory"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
	"github.com/jeremyhahn/go-frostsigner/pkg/wallet"
)

const host = "example.com"

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type stubAuthorizer struct {
	mu     sync.Mutex
	answer bool
	err    error
	calls  []prompt.Request
}

func (s *stubAuthorizer) Authorize(_ context.Context, req prompt.Request) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	return s.answer, s.err
}

func (s *stubAuthorizer) Calls() []prompt.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]prompt.Request(nil), s.calls...)
}

type stubUtxos struct {
	address string
	utxos   []wallet.Utxo
}

func (s *stubUtxos) Utxos(_ context.Context, address string) ([]wallet.Utxo, error) {
	s.address = address
	return s.utxos, nil
}

type testEnv struct {
	router   *Router
	policies *policy.Store
	settings storage.Backend
	prompts  *stubAuthorizer
	backend  *local.Backend
	priv     *btcec.PrivateKey
	utxos    *stubUtxos
}

func newEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	be := local.FromPrivateKey(priv)

	settings := memory.New()
	policies := policy.NewStore(settings, policy.WithLogger(logger.Nop()))
	batcher := batch.New(be, batch.Config{Window: time.Millisecond}, batch.WithLogger(logger.Nop()))
	t.Cleanup(func() { _ = batcher.Close() })

	env := &testEnv{
		policies: policies,
		settings: settings,
		prompts:  &stubAuthorizer{},
		backend:  be,
		priv:     priv,
		utxos:    &stubUtxos{utxos: []wallet.Utxo{{TxID: "aa", Vout: 0, Value: 1000}}},
	}

	cfg := Config{
		Backend:          be,
		Batcher:          batcher,
		Arbiter:          permission.NewArbiter(policies, logger.Nop()),
		Prompts:          env.prompts,
		Settings:         settings,
		Utxos:            env.utxos,
		Clock:            clock.NewFake(epoch),
		Logger:           logger.Nop(),
		Network:          "regtest",
		VerifySignatures: true,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	env.router, err = New(cfg)
	require.NoError(t, err)
	return env
}

func (e *testEnv) allow(t *testing.T, op types.Operation) {
	t.Helper()
	require.NoError(t, e.policies.Upsert(host, op, true, &policy.Conditions{}))
}

func (e *testEnv) call(t *testing.T, op types.Operation, params any) *Response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		require.NoError(t, err)
	}
	return e.router.Handle(context.Background(), Request{Type: op.String(), Params: raw, Host: host})
}

func (e *testEnv) xonly() string {
	return hex.EncodeToString(schnorr.SerializePubKey(e.priv.PubKey()))
}

func requireCode(t *testing.T, resp *Response, code string) {
	t.Helper()
	require.NotNil(t, resp.Error, "expected error %s, got result %v", code, resp.Result)
	assert.Equal(t, code, resp.Error.Code, resp.Error.Message)
}

func requireResult(t *testing.T, resp *Response) any {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	return resp.Result
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Prompts: &stubAuthorizer{}})
	assert.Error(t, err)
	_, err = New(Config{Arbiter: permission.NewArbiter(policy.NewStore(memory.New()), nil)})
	assert.Error(t, err)
}

func TestHandle_RequestValidation(t *testing.T) {
	env := newEnv(t)

	resp := env.router.Handle(context.Background(), Request{Type: "teleport", Host: host})
	requireCode(t, resp, types.CodeUnknownOperation)

	resp = env.router.Handle(context.Background(), Request{Type: types.OpGetPublicKey.String()})
	requireCode(t, resp, types.CodeMalformedInput)

	resp = env.router.Handle(context.Background(), Request{
		Type: types.OpSignEvent.String(), Host: host, Params: json.RawMessage(`{"event":`),
	})
	requireCode(t, resp, types.CodeMalformedInput)
}

func TestHandle_NotInitialized(t *testing.T) {
	env := newEnv(t, func(c *Config) {
		c.Backend = nil
		c.Batcher = nil
	})

	for _, op := range []types.Operation{
		types.OpGetPublicKey, types.OpSignEvent, types.OpNip04Encrypt, types.OpNip44Decrypt,
		types.OpWalletGetAccount, types.OpWalletGetUtxos, types.OpWalletSignPsbt, types.OpNodeReset,
	} {
		t.Run(op.String(), func(t *testing.T) {
			requireCode(t, env.call(t, op, nil), types.CodeNotInitialized)
		})
	}
	assert.Empty(t, env.prompts.Calls(), "uninitialized requests must not prompt")

	status := requireResult(t, env.call(t, types.OpNodeStatus, nil)).(*backend.Status)
	assert.False(t, status.Ready)
}

func TestHandle_Permission(t *testing.T) {
	t.Run("allow policy skips the prompt", func(t *testing.T) {
		env := newEnv(t)
		env.allow(t, types.OpGetPublicKey)

		assert.Equal(t, env.xonly(), requireResult(t, env.call(t, types.OpGetPublicKey, nil)))
		assert.Empty(t, env.prompts.Calls())
	})

	t.Run("deny policy", func(t *testing.T) {
		env := newEnv(t)
		require.NoError(t, env.policies.Upsert(host, types.OpGetPublicKey, false, &policy.Conditions{}))

		requireCode(t, env.call(t, types.OpGetPublicKey, nil), types.CodePermissionDenied)
		assert.Empty(t, env.prompts.Calls())
	})

	t.Run("unknown asks the user", func(t *testing.T) {
		env := newEnv(t)
		env.prompts.answer = true

		assert.Equal(t, env.xonly(), requireResult(t, env.call(t, types.OpGetPublicKey, nil)))
		calls := env.prompts.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, host, calls[0].Host)
		assert.Equal(t, types.OpGetPublicKey, calls[0].Operation)
	})

	t.Run("user refuses", func(t *testing.T) {
		env := newEnv(t)
		requireCode(t, env.call(t, types.OpGetPublicKey, nil), types.CodePermissionDenied)
	})

	t.Run("prompt error", func(t *testing.T) {
		env := newEnv(t)
		env.prompts.err = context.Canceled
		requireCode(t, env.call(t, types.OpGetPublicKey, nil), types.CodeCanceled)
	})

	t.Run("exempt operations", func(t *testing.T) {
		env := newEnv(t)
		status := requireResult(t, env.call(t, types.OpNodeStatus, nil)).(*backend.Status)
		assert.True(t, status.Ready)
		assert.Empty(t, env.prompts.Calls())
	})
}

func TestHandle_RateLimited(t *testing.T) {
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true, RequestsPerMinute: 1, Burst: 1})
	defer limiter.Stop()

	env := newEnv(t, func(c *Config) { c.Limiter = limiter })
	env.allow(t, types.OpGetPublicKey)

	requireResult(t, env.call(t, types.OpGetPublicKey, nil))
	requireCode(t, env.call(t, types.OpGetPublicKey, nil), types.CodeRateLimited)

	// Other hosts have their own budget.
	resp := env.router.Handle(context.Background(), Request{Type: types.OpNodeStatus.String(), Host: "other.org"})
	requireResult(t, resp)
}

func TestSignEvent(t *testing.T) {
	env := newEnv(t)
	require.NoError(t, env.policies.Upsert(host, types.OpSignEvent, true, &policy.Conditions{Kinds: []int{1}}))

	resp := env.call(t, types.OpSignEvent, map[string]any{
		"event": map[string]any{"kind": 1, "content": "hello"},
	})
	ev := requireResult(t, resp).(*nostr.Event)
	assert.Equal(t, env.xonly(), ev.PubKey)
	assert.Equal(t, epoch.Unix(), ev.CreatedAt)
	assert.NotNil(t, ev.Tags)
	assert.Empty(t, ev.Tags)
	assert.NoError(t, ev.Verify())
	assert.Empty(t, env.prompts.Calls())

	t.Run("kind outside the policy prompts with the event", func(t *testing.T) {
		env.prompts.answer = false
		resp := env.call(t, types.OpSignEvent, map[string]any{
			"event": map[string]any{"kind": 4, "content": "dm", "created_at": 1700000000},
		})
		requireCode(t, resp, types.CodePermissionDenied)

		calls := env.prompts.Calls()
		require.Len(t, calls, 1)
		require.NotNil(t, calls[0].Kind)
		assert.Equal(t, 4, *calls[0].Kind)
		shown := calls[0].Payload.(*nostr.Event)
		assert.Equal(t, int64(1700000000), shown.CreatedAt)
		assert.Empty(t, shown.Sig)
	})

	t.Run("matching supplied id", func(t *testing.T) {
		tmpl := &nostr.Event{PubKey: env.xonly(), CreatedAt: 1, Kind: 1, Tags: [][]string{{"t", "x"}}, Content: "c"}
		id := tmpl.ComputeID()
		resp := env.call(t, types.OpSignEvent, map[string]any{
			"event": map[string]any{"id": id, "kind": 1, "created_at": 1, "tags": [][]string{{"t", "x"}}, "content": "c"},
		})
		ev := requireResult(t, resp).(*nostr.Event)
		assert.Equal(t, id, ev.ID)
	})

	t.Run("malformed templates", func(t *testing.T) {
		tests := []struct {
			name  string
			event map[string]any
		}{
			{"missing kind", map[string]any{"content": "x"}},
			{"id mismatch", map[string]any{"kind": 1, "content": "x", "id": "00"}},
			{"foreign pubkey", map[string]any{"kind": 1, "content": "x", "pubkey": "11"}},
			{"kind out of range", map[string]any{"kind": 70000, "content": "x"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				requireCode(t, env.call(t, types.OpSignEvent, map[string]any{"event": tt.event}), types.CodeMalformedInput)
			})
		}
		requireCode(t, env.call(t, types.OpSignEvent, map[string]any{}), types.CodeMalformedInput)
	})
}

func TestSignEvent_BackendFailure(t *testing.T) {
	env := newEnv(t)
	env.allow(t, types.OpSignEvent)
	require.NoError(t, env.backend.Close())

	resp := env.call(t, types.OpSignEvent, map[string]any{"event": map[string]any{"kind": 1}})
	requireCode(t, resp, types.CodeBackend)
}

func TestEncryption_RoundTrip(t *testing.T) {
	env := newEnv(t)
	for _, op := range []types.Operation{
		types.OpNip04Encrypt, types.OpNip04Decrypt, types.OpNip44Encrypt, types.OpNip44Decrypt,
	} {
		env.allow(t, op)
	}

	peer, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	peerHex := hex.EncodeToString(schnorr.SerializePubKey(peer.PubKey()))
	groupPub, err := schnorr.ParsePubKey(schnorr.SerializePubKey(env.priv.PubKey()))
	require.NoError(t, err)
	shared := btcec.GenerateSharedSecret(peer, groupPub)

	t.Run("nip04", func(t *testing.T) {
		ct := requireResult(t, env.call(t, types.OpNip04Encrypt, map[string]string{"peer": peerHex, "plaintext": "hi there"})).(string)
		pt, err := nip04.Decrypt(shared, ct)
		require.NoError(t, err)
		assert.Equal(t, "hi there", pt)

		reply, err := nip04.Encrypt(shared, "reply")
		require.NoError(t, err)
		assert.Equal(t, "reply", requireResult(t, env.call(t, types.OpNip04Decrypt, map[string]string{"peer": peerHex, "ciphertext": reply})))

		requireCode(t, env.call(t, types.OpNip04Decrypt, map[string]string{"peer": peerHex, "ciphertext": "garbage"}), types.CodeMalformedInput)
	})

	t.Run("nip44", func(t *testing.T) {
		key, err := nip44.ConversationKey(shared)
		require.NoError(t, err)

		ct := requireResult(t, env.call(t, types.OpNip44Encrypt, map[string]string{"peer": peerHex, "plaintext": "hi there"})).(string)
		pt, err := nip44.Decrypt(key, ct)
		require.NoError(t, err)
		assert.Equal(t, "hi there", pt)

		reply, err := nip44.Encrypt(key, "reply")
		require.NoError(t, err)
		assert.Equal(t, "reply", requireResult(t, env.call(t, types.OpNip44Decrypt, map[string]string{"peer": peerHex, "ciphertext": reply})))
	})

	t.Run("bad peer", func(t *testing.T) {
		for _, p := range []string{"", "zz", "0102"} {
			requireCode(t, env.call(t, types.OpNip44Encrypt, map[string]string{"peer": p, "plaintext": "x"}), types.CodeMalformedInput)
		}
	})
}

func TestGetRelays(t *testing.T) {
	env := newEnv(t)
	env.allow(t, types.OpGetRelays)

	assert.Empty(t, requireResult(t, env.call(t, types.OpGetRelays, nil)))

	relays := map[string]map[string]bool{"wss://relay.example": {"read": true, "write": false}}
	require.NoError(t, storage.PutJSON(env.settings, storage.RelaysKey, relays))

	got := requireResult(t, env.call(t, types.OpGetRelays, nil)).(map[string]json.RawMessage)
	require.Contains(t, got, "wss://relay.example")
	assert.JSONEq(t, `{"read":true,"write":false}`, string(got["wss://relay.example"]))
}

func TestLinkResolve(t *testing.T) {
	env := newEnv(t)

	assert.Equal(t, "", requireResult(t, env.call(t, types.OpLinkResolve, map[string]string{"url": "nostr:npub1abc"})))

	require.NoError(t, storage.PutJSON(env.settings, storage.ProtocolHandlerKey, "https://njump.me/{raw}"))
	assert.Equal(t, "https://njump.me/npub1abc",
		requireResult(t, env.call(t, types.OpLinkResolve, map[string]string{"url": "nostr:npub1abc"})))

	requireCode(t, env.call(t, types.OpLinkResolve, map[string]string{}), types.CodeMalformedInput)
	assert.Empty(t, env.prompts.Calls())
}

func TestNodeReset(t *testing.T) {
	env := newEnv(t)
	require.NoError(t, env.backend.Close())

	assert.Equal(t, true, requireResult(t, env.call(t, types.OpNodeReset, nil)))

	_, err := env.backend.Sign(context.Background(), []backend.SignTarget{{ID: hex.EncodeToString(make([]byte, 32))}})
	assert.NoError(t, err)
}

func TestWallet_AccountAndUtxos(t *testing.T) {
	env := newEnv(t)
	env.allow(t, types.OpWalletGetAccount)
	env.allow(t, types.OpWalletGetUtxos)

	want, err := wallet.Derive(env.priv.PubKey().SerializeCompressed(), "regtest")
	require.NoError(t, err)
	assert.Equal(t, want, requireResult(t, env.call(t, types.OpWalletGetAccount, nil)))

	assert.Equal(t, env.utxos.utxos, requireResult(t, env.call(t, types.OpWalletGetUtxos, nil)))
	assert.Equal(t, want.Address, env.utxos.address)

	noSource := newEnv(t, func(c *Config) { c.Utxos = nil })
	noSource.allow(t, types.OpWalletGetUtxos)
	requireCode(t, noSource.call(t, types.OpWalletGetUtxos, nil), types.CodeNotInitialized)
}

func accountPacket(t *testing.T, pkScript []byte, inputs int) *psbt.Packet {
	t.Helper()
	tx := wire.NewMsgTx(2)
	for i := 0; i < inputs; i++ {
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{byte(i + 1)}, Index: 0}, nil, nil))
	}
	tx.AddTxOut(wire.NewTxOut(9_000, pkScript))
	p, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	for i := range p.Inputs {
		p.Inputs[i].WitnessUtxo = wire.NewTxOut(10_000, pkScript)
	}
	return p
}

func encodePacket(t *testing.T, p *psbt.Packet) string {
	t.Helper()
	s, err := p.B64Encode()
	require.NoError(t, err)
	return s
}

func TestWalletSignPsbt(t *testing.T) {
	env := newEnv(t)
	env.allow(t, types.OpWalletSignPsbt)

	acct, err := wallet.Derive(env.priv.PubKey().SerializeCompressed(), "regtest")
	require.NoError(t, err)
	pkScript, err := hex.DecodeString(acct.PkScript)
	require.NoError(t, err)

	p := accountPacket(t, pkScript, 2)
	resp := env.call(t, types.OpWalletSignPsbt, map[string]string{"psbt": encodePacket(t, p)})
	out := requireResult(t, resp).(map[string]string)

	signed, err := sighash.Decode(out["psbt"])
	require.NoError(t, err)

	fetcher := txscript.NewMultiPrevOutFetcher(make(map[wire.OutPoint]*wire.TxOut))
	for i, in := range signed.UnsignedTx.TxIn {
		fetcher.AddPrevOut(in.PreviousOutPoint, signed.Inputs[i].WitnessUtxo)
	}
	for i := range signed.Inputs {
		sig := signed.Inputs[i].TaprootKeySpendSig
		require.Len(t, sig, 64, "input %d", i)

		tx := signed.UnsignedTx.Copy()
		tx.TxIn[i].Witness = wire.TxWitness{sig}
		vm, err := txscript.NewEngine(pkScript, tx, i, txscript.StandardVerifyFlags, nil,
			txscript.NewTxSigHashes(tx, fetcher), 10_000, fetcher)
		require.NoError(t, err)
		assert.NoError(t, vm.Execute(), "input %d", i)
	}
}

func TestWalletSignPsbt_Rejections(t *testing.T) {
	env := newEnv(t)
	env.allow(t, types.OpWalletSignPsbt)

	acct, err := wallet.Derive(env.priv.PubKey().SerializeCompressed(), "regtest")
	require.NoError(t, err)
	pkScript, err := hex.DecodeString(acct.PkScript)
	require.NoError(t, err)

	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	foreign, err := txscript.PayToTaprootScript(txscript.ComputeTaprootOutputKey(other.PubKey(), nil))
	require.NoError(t, err)

	signedAlready := accountPacket(t, pkScript, 1)
	signedAlready.Inputs[0].TaprootKeySpendSig = make([]byte, 64)

	tests := []struct {
		name   string
		params map[string]any
	}{
		{"not base64", map[string]any{"psbt": "!!"}},
		{"nothing to sign", map[string]any{"psbt": encodePacket(t, accountPacket(t, foreign, 1))}},
		{"already signed", map[string]any{"psbt": encodePacket(t, signedAlready)}},
		{"foreign manifest key", map[string]any{
			"psbt":     encodePacket(t, accountPacket(t, pkScript, 1)),
			"manifest": []map[string]any{{"pubkey": hex.EncodeToString(schnorr.SerializePubKey(other.PubKey())), "inputs": []int{0}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireCode(t, env.call(t, types.OpWalletSignPsbt, tt.params), types.CodeMalformedInput)
		})
	}

	t.Run("backend down", func(t *testing.T) {
		require.NoError(t, env.backend.Close())
		resp := env.call(t, types.OpWalletSignPsbt, map[string]any{"psbt": encodePacket(t, accountPacket(t, pkScript, 1))})
		requireCode(t, resp, types.CodeBackend)
	})
}

func TestHandle_WithPromptManager(t *testing.T) {
	env := newEnv(t)
	surface := prompt.NewQueueSurface()
	arbiter := permission.NewArbiter(env.policies, logger.Nop())
	manager := prompt.NewManager(arbiter, env.policies, surface, prompt.WithLogger(logger.Nop()))
	env.router.cfg.Prompts = manager

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan *Response, 1)
	go func() {
		done <- env.router.Handle(ctx, Request{Type: types.OpGetPublicKey.String(), Host: host})
	}()

	p, err := surface.Next(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, types.OpGetPublicKey, p.Operation)
	require.NoError(t, manager.Respond(p.ID, prompt.Decision{Accept: true, Conditions: &policy.Conditions{}}))

	resp := <-done
	assert.Equal(t, env.xonly(), requireResult(t, resp))

	// The decision was remembered.
	resp = env.router.Handle(ctx, Request{Type: types.OpGetPublicKey.String(), Host: host})
	assert.Equal(t, env.xonly(), requireResult(t, resp))
	assert.Nil(t, surface.Current())
}

func TestBackendErr(t *testing.T) {
	assert.True(t, errors.Is(backendErr("x", errors.New("boom")), types.ErrBackend))
	assert.Equal(t, context.Canceled, backendErr("x", context.Canceled))
	malformed := fmt.Errorf("%w: bad", types.ErrMalformedInput)
	assert.Equal(t, malformed, backendErr("x", malformed))
}
