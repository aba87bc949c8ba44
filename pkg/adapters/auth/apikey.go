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

package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
)

// APIKeyAuthenticator accepts a static key from the X-API-Key header or a
// bearer token.
type APIKeyAuthenticator struct {
	keys       map[string]string
	headerName string
}

// NewAPIKeyAuthenticator maps each key to the subject it authenticates as.
func NewAPIKeyAuthenticator(keys map[string]string) *APIKeyAuthenticator {
	copied := make(map[string]string, len(keys))
	for k, v := range keys {
		if k != "" {
			copied[k] = v
		}
	}
	return &APIKeyAuthenticator{keys: copied, headerName: "X-API-Key"}
}

// Authenticate implements Authenticator.
func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	presented := r.Header.Get(a.headerName)
	if presented == "" {
		presented = bearerToken(r)
	}
	if presented == "" {
		return nil, fmt.Errorf("%w: no API key provided", ErrUnauthenticated)
	}

	for key, subject := range a.keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(presented)) == 1 {
			return &Identity{Subject: subject, Method: a.Name()}, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid API key", ErrUnauthenticated)
}

// Name implements Authenticator.
func (a *APIKeyAuthenticator) Name() string {
	return "apikey"
}
