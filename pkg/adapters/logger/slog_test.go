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

package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-frostsigner/pkg/correlation"
)

func newJSON(buf *bytes.Buffer, level Level) *SlogAdapter {
	return NewSlogAdapter(&SlogConfig{Output: buf, Format: "json", Level: level})
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestSlogAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	log := newJSON(&buf, LevelDebug)

	log.Info("prompt opened",
		Host("https://example.com"),
		Operation("signEvent"),
		Int("kind", 1),
		Bool("persist", true),
		Duration("wait", 2*time.Second),
		Error(errors.New("boom")),
	)

	rec := decode(t, &buf)
	assert.Equal(t, "prompt opened", rec["msg"])
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "https://example.com", rec["host"])
	assert.Equal(t, "signEvent", rec["operation"])
	assert.Equal(t, float64(1), rec["kind"])
	assert.Equal(t, true, rec["persist"])
	assert.Equal(t, "boom", rec["error"])
}

func TestSlogAdapter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := newJSON(&buf, LevelWarn)

	log.Debug("hidden")
	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestSlogAdapter_WithDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	parent := newJSON(&buf, LevelInfo)
	child := parent.With(Session("abc"))

	child.Info("child")
	rec := decode(t, &buf)
	assert.Equal(t, "abc", rec["session_id"])

	buf.Reset()
	parent.Info("parent")
	rec = decode(t, &buf)
	_, ok := rec["session_id"]
	assert.False(t, ok)
}

func TestSlogAdapter_Context(t *testing.T) {
	var buf bytes.Buffer
	log := newJSON(&buf, LevelInfo)

	ctx := correlation.WithCorrelationID(context.Background(), "corr-1")
	log.InfoContext(ctx, "with id")
	assert.Equal(t, "corr-1", decode(t, &buf)["correlation_id"])

	buf.Reset()
	FromContext(ctx, log).Warn("derived")
	assert.Equal(t, "corr-1", decode(t, &buf)["correlation_id"])
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().With(String("a", "b")).WithError(errors.New("x")).Error("dropped")
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
			assert.NotEqual(t, "UNKNOWN", tt.want.String())
		})
	}
}
