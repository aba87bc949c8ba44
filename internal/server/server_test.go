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

package server

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-frostsigner/internal/config"
	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend/local"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend/remote"
	"github.com/jeremyhahn/go-frostsigner/pkg/router"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

const testSecret = "0000000000000000000000000000000000000000000000000000000000000003"

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestOpenStorage(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{"memory", config.StorageConfig{Backend: StorageMemory}, false},
		{"default", config.StorageConfig{}, false},
		{"file", config.StorageConfig{Backend: StorageFile, Path: t.TempDir()}, false},
		{"badger", config.StorageConfig{Backend: StorageBadger, Path: t.TempDir()}, false},
		{"file without path", config.StorageConfig{Backend: StorageFile}, true},
		{"badger without path", config.StorageConfig{Backend: StorageBadger}, true},
		{"unknown", config.StorageConfig{Backend: "etcd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := OpenStorage(context.Background(), tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			defer func() { _ = s.Close() }()

			require.NoError(t, storage.PutJSON(s, storage.RelaysKey, map[string]bool{"wss://r": true}))
			var got map[string]bool
			found, err := storage.GetJSON(s, storage.RelaysKey, &got)
			require.NoError(t, err)
			assert.True(t, found)
			assert.True(t, got["wss://r"])
		})
	}
}

func TestNewBackend(t *testing.T) {
	ctx := context.Background()
	keys, err := OpenStorage(ctx, config.StorageConfig{})
	require.NoError(t, err)

	t.Run("local with secret", func(t *testing.T) {
		b, err := NewBackend(ctx, config.BackendConfig{
			Type:  BackendLocal,
			Local: config.LocalConfig{SecretKey: testSecret},
		}, keys, logger.Nop())
		require.NoError(t, err)

		secret, _ := hex.DecodeString(testSecret)
		_, pub := btcec.PrivKeyFromBytes(secret)
		assert.Equal(t, pub.SerializeCompressed(), b.GroupPublicKey())
	})

	t.Run("local generates and persists", func(t *testing.T) {
		first, err := NewBackend(ctx, config.BackendConfig{Type: BackendLocal}, keys, logger.Nop())
		require.NoError(t, err)
		second, err := NewBackend(ctx, config.BackendConfig{Type: BackendLocal}, keys, logger.Nop())
		require.NoError(t, err)
		assert.Equal(t, first.GroupPublicKey(), second.GroupPublicKey())
	})

	t.Run("none", func(t *testing.T) {
		b, err := NewBackend(ctx, config.BackendConfig{Type: BackendNone}, keys, logger.Nop())
		require.NoError(t, err)
		assert.Nil(t, b)
	})

	t.Run("remote", func(t *testing.T) {
		node := local.FromPrivateKey(mustKey(t))
		srv := httptest.NewServer(remote.NewHandler(node, "node-token", logger.Nop()))
		defer srv.Close()

		b, err := NewBackend(ctx, config.BackendConfig{
			Type: BackendRemote,
			Remote: config.RemoteConfig{
				URL:         "ws" + srv.URL[len("http"):],
				Token:       "node-token",
				DialTimeout: 2 * time.Second,
			},
		}, keys, logger.Nop())
		require.NoError(t, err)
		defer func() { _ = b.(*remote.Client).Close() }()

		assert.Equal(t, node.GroupPublicKey(), b.GroupPublicKey())
	})

	t.Run("remote unreachable", func(t *testing.T) {
		_, err := NewBackend(ctx, config.BackendConfig{
			Type:   BackendRemote,
			Remote: config.RemoteConfig{URL: "ws://127.0.0.1:1", DialTimeout: 200 * time.Millisecond},
		}, keys, logger.Nop())
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewBackend(ctx, config.BackendConfig{Type: "hsm"}, keys, logger.Nop())
		assert.Error(t, err)
	})
}

func mustKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Server.Port = 0
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestServer_StartAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = freePort(t)
	cfg.Backend.Local.SecretKey = testSecret
	cfg.Metrics.Enabled = false

	srv, err := New(cfg, WithLogger(logger.Nop()))
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	base := "http://" + srv.Addr().String()

	resp, err := http.Get(base + "/health/startup")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Policies().Upsert("app.example", types.OpGetPublicKey, true, nil))
	assert.Eventually(t, func() bool { return srv.Audit().Len() == 1 }, time.Second, 10*time.Millisecond)
	body, _ := json.Marshal(router.Request{Type: string(types.OpGetPublicKey), Host: "app.example"})
	resp, err = http.Post(base+"/api/v1/request", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out router.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Nil(t, out.Error)

	secret, _ := hex.DecodeString(testSecret)
	_, pub := btcec.PrivKeyFromBytes(secret)
	assert.Equal(t, hex.EncodeToString(backend.XOnly(pub.SerializeCompressed())), out.Result)

	require.NoError(t, srv.Shutdown())
	assert.NoError(t, srv.Shutdown())
	srv.WaitForShutdown()

	_, err = http.Get(base + "/health/live")
	assert.Error(t, err)
}

func TestServer_NoBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = freePort(t)
	cfg.Backend.Type = BackendNone
	cfg.Metrics.Enabled = false

	srv, err := New(cfg, WithLogger(logger.Nop()))
	require.NoError(t, err)
	defer func() { _ = srv.Shutdown() }()

	resp := srv.Router().Handle(context.Background(), router.Request{Type: string(types.OpGetPublicKey), Host: "app.example"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, types.CodeNotInitialized, resp.Error.Code)

	policies, err := srv.Policies().List()
	require.NoError(t, err)
	assert.Empty(t, policies)
	assert.Nil(t, srv.Prompts().Current())
}
