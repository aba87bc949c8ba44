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

package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage/storagetest"
)

func TestFileStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		s, err := New(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestKeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"plain", "policies", false},
		{"nested", "settings/relays", false},
		{"dots in name", "settings/a..b", false},
		{"empty", "", true},
		{"null byte", "bad\x00key", true},
		{"absolute", "/etc/passwd", true},
		{"traversal", "../escape", true},
		{"inner traversal", "settings/../../escape", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStorageKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPut_RejectsTraversal(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	err = s.Put("../outside", []byte("x"))
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestPut_AtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put("policies", []byte("[]")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "policies", entries[0].Name())
}

func TestPut_Permissions(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, WithPermissions(0640))
	require.NoError(t, err)

	require.NoError(t, s.Put("settings/relays", []byte("{}")))

	info, err := os.Stat(filepath.Join(dir, "settings", "relays"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
}

func TestPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	first, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, first.Put("policies", []byte(`[{"host":"a"}]`)))
	require.NoError(t, first.Close())

	second, err := New(dir)
	require.NoError(t, err)
	got, err := second.Get("policies")
	require.NoError(t, err)
	assert.Equal(t, `[{"host":"a"}]`, string(got))
}
