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

// Package auth authenticates the human-facing HTTP routes (prompt decisions
// and policy management). Page requests are not authenticated; they are
// authorized per origin by the permission arbiter instead.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when no valid credential is presented.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Identity represents an authenticated operator or UI client.
type Identity struct {
	// Subject identifies the authenticated entity.
	Subject string

	// Method is the authenticator that accepted the credential.
	Method string

	// Claims carries token claims, when the method has any.
	Claims map[string]any
}

// Authenticator authenticates an HTTP request.
type Authenticator interface {
	// Authenticate returns the caller's identity or an error wrapping
	// ErrUnauthenticated.
	Authenticate(r *http.Request) (*Identity, error)

	// Name returns the authenticator name for logging.
	Name() string
}

type contextKey string

const identityContextKey contextKey = "auth.identity"

// GetIdentity extracts the identity from a context
func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(identityContextKey).(*Identity); ok {
		return identity
	}
	return nil
}

// WithIdentity adds an identity to a context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// Middleware rejects requests the authenticator does not accept with 401 and
// stores the identity of accepted ones in the request context.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.Authenticate(r)
			if err != nil || identity == nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="frostsigner"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Chain tries each authenticator in order and returns the first identity.
type Chain []Authenticator

// Authenticate implements Authenticator.
func (c Chain) Authenticate(r *http.Request) (*Identity, error) {
	var errs []error
	for _, a := range c {
		identity, err := a.Authenticate(r)
		if err == nil && identity != nil {
			return identity, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(append([]error{ErrUnauthenticated}, errs...)...)
}

// Name implements Authenticator.
func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, a := range c {
		names[i] = a.Name()
	}
	return strings.Join(names, ",")
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
