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
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const minSecretLen = 32

// JWTAuthenticator verifies HS256 bearer tokens issued to the approval UI.
type JWTAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// JWTConfig configures the JWT authenticator.
type JWTConfig struct {
	// Secret is the shared HMAC key (at least 32 bytes).
	Secret []byte
	// Issuer is set on issued tokens and required on verified ones.
	Issuer string
}

// NewJWTAuthenticator creates a new JWT authenticator.
func NewJWTAuthenticator(config *JWTConfig) (*JWTAuthenticator, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(config.Secret) < minSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLen)
	}
	issuer := config.Issuer
	if issuer == "" {
		issuer = "frostsigner"
	}
	return &JWTAuthenticator{
		secret: config.Secret,
		issuer: issuer,
		now:    time.Now,
	}, nil
}

// Issue signs a token for subject valid for ttl.
func (a *JWTAuthenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (*Identity, error) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		return nil, fmt.Errorf("%w: no token provided", ErrUnauthenticated)
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	return &Identity{
		Subject: claims.Subject,
		Method:  a.Name(),
		Claims: map[string]any{
			"iss": claims.Issuer,
			"exp": claims.ExpiresAt.Time,
		},
	}, nil
}

// Name implements Authenticator.
func (a *JWTAuthenticator) Name() string {
	return "jwt"
}
