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

package config

import (
	"fmt"
	"time"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/auth"
)

const defaultTokenTTL = 24 * time.Hour

func (cfg *AuthConfig) validate() error {
	if !cfg.Enabled {
		return nil
	}
	switch cfg.Type {
	case "noop", "none", "":
	case "apikey":
		if len(cfg.APIKeys) == 0 {
			return fmt.Errorf("no API keys configured")
		}
	case "jwt":
		if cfg.JWT == nil || cfg.JWT.Secret == "" {
			return fmt.Errorf("auth jwt.secret is required for jwt authentication")
		}
	case "chain":
		if len(cfg.APIKeys) == 0 && (cfg.JWT == nil || cfg.JWT.Secret == "") {
			return fmt.Errorf("chain authentication needs API keys or a JWT secret")
		}
	default:
		return fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
	return nil
}

// CreateAuthenticator creates an authenticator from the configuration
func (cfg *AuthConfig) CreateAuthenticator() (auth.Authenticator, error) {
	if !cfg.Enabled {
		return auth.NewNoOpAuthenticator(), nil
	}

	switch cfg.Type {
	case "noop", "none", "":
		return auth.NewNoOpAuthenticator(), nil

	case "apikey":
		if len(cfg.APIKeys) == 0 {
			return nil, fmt.Errorf("no API keys configured")
		}
		return auth.NewAPIKeyAuthenticator(cfg.APIKeys), nil

	case "jwt":
		return cfg.JWTAuthenticator()

	case "chain":
		var chain auth.Chain
		if cfg.JWT != nil && cfg.JWT.Secret != "" {
			a, err := cfg.JWTAuthenticator()
			if err != nil {
				return nil, err
			}
			chain = append(chain, a)
		}
		if len(cfg.APIKeys) > 0 {
			chain = append(chain, auth.NewAPIKeyAuthenticator(cfg.APIKeys))
		}
		if len(chain) == 0 {
			return nil, fmt.Errorf("chain authentication needs API keys or a JWT secret")
		}
		return chain, nil

	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
}

// JWTAuthenticator builds the HS256 authenticator, which also issues tokens.
func (cfg *AuthConfig) JWTAuthenticator() (*auth.JWTAuthenticator, error) {
	if cfg.JWT == nil || cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("auth jwt.secret is not configured")
	}
	return auth.NewJWTAuthenticator(&auth.JWTConfig{
		Secret: []byte(cfg.JWT.Secret),
		Issuer: cfg.JWT.Issuer,
	})
}

// TokenTTL returns the lifetime of issued UI tokens.
func (cfg *AuthConfig) TokenTTL() time.Duration {
	if cfg.JWT == nil || cfg.JWT.TTL <= 0 {
		return defaultTokenTTL
	}
	return cfg.JWT.TTL
}
