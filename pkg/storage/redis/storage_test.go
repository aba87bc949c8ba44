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

package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage/storagetest"
)

// Integration tests run only when FROSTSIGNER_TEST_REDIS_ADDR points at a
// disposable server.
func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("FROSTSIGNER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FROSTSIGNER_TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestStorage(t *testing.T) {
	addr := redisAddr(t)

	storagetest.Run(t, func(t *testing.T) storage.Backend {
		prefix := "frostsigner-test:" + uuid.NewString() + ":"
		s, err := New(context.Background(), Config{Addr: addr, Prefix: prefix})
		require.NoError(t, err)

		t.Cleanup(func() {
			cleanup, err := New(context.Background(), Config{Addr: addr, Prefix: prefix})
			if err != nil {
				return
			}
			defer cleanup.Close()
			keys, _ := cleanup.List("")
			for _, k := range keys {
				_ = cleanup.Delete(k)
			}
		})
		return s
	})
}

func TestNew_Unreachable(t *testing.T) {
	_, err := New(context.Background(), Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain:", "plain:"},
		{"a*b", `a\*b`},
		{"q?[x]", `q\?\[x\]`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeGlob(tt.in))
		})
	}
}
