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

package rest

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
)

func TestResponseWriter(t *testing.T) {
	t.Run("Captures status code on WriteHeader", func(t *testing.T) {
		rw := newResponseWriter(httptest.NewRecorder())
		rw.WriteHeader(http.StatusCreated)

		if rw.statusCode != http.StatusCreated {
			t.Errorf("Expected status code %d, got %d", http.StatusCreated, rw.statusCode)
		}
		if !rw.written {
			t.Error("Expected written flag to be true")
		}
	})

	t.Run("Write calls WriteHeader if not written", func(t *testing.T) {
		rw := newResponseWriter(httptest.NewRecorder())
		if _, err := rw.Write([]byte("test")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if !rw.written || rw.statusCode != http.StatusOK {
			t.Errorf("Expected implicit 200, got written=%v status=%d", rw.written, rw.statusCode)
		}
	})

	t.Run("WriteHeader only once", func(t *testing.T) {
		rw := newResponseWriter(httptest.NewRecorder())
		rw.WriteHeader(http.StatusCreated)
		rw.WriteHeader(http.StatusBadRequest)

		if rw.statusCode != http.StatusCreated {
			t.Errorf("Expected status code %d, got %d", http.StatusCreated, rw.statusCode)
		}
	})
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		wantHeader string
		wantStatus int
	}{
		{"any origin", nil, http.MethodPost, "https://a.example", "https://a.example", http.StatusTeapot},
		{"listed origin", []string{"https://a.example"}, http.MethodPost, "https://a.example", "https://a.example", http.StatusTeapot},
		{"unlisted origin", []string{"https://a.example"}, http.MethodPost, "https://b.example", "", http.StatusTeapot},
		{"preflight", nil, http.MethodOptions, "https://a.example", "https://a.example", http.StatusNoContent},
		{"no origin", nil, http.MethodGet, "", "", http.StatusTeapot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/request", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			CORSMiddleware(tt.allowed)(next).ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantHeader {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantHeader)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	s := &Server{logger: logger.Nop()}
	h := s.RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestOriginHost(t *testing.T) {
	tests := map[string]string{
		"https://app.example":   "app.example",
		"http://localhost:3000": "localhost:3000",
		"":                      "",
		"null":                  "",
	}
	for in, want := range tests {
		if got := originHost(in); got != want {
			t.Errorf("originHost(%q) = %q, want %q", in, got, want)
		}
	}
}
