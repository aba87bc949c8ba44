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

// Package types holds the error taxonomy and operation vocabulary shared by
// every signer component.
package types

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when a policy or the human rejects a request.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrBackend is returned when the threshold backend failed a sign or ECDH call.
	ErrBackend = errors.New("backend error")

	// ErrMalformedInput is returned for invalid events, PSBTs, control blocks or params.
	ErrMalformedInput = errors.New("malformed input")

	// ErrNotInitialized is returned when no backend or credentials are configured.
	ErrNotInitialized = errors.New("signer not initialized")

	// ErrUnknownOperation is returned when a request type is not recognized.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrRateLimited is returned when a host exceeds its request budget.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Wire error codes.
const (
	CodePermissionDenied = "permission_denied"
	CodeBackend          = "backend_error"
	CodeMalformedInput   = "malformed_input"
	CodeNotInitialized   = "not_initialized"
	CodeUnknownOperation = "unknown_operation"
	CodeRateLimited      = "rate_limited"
	CodeCanceled         = "canceled"
	CodeInternal         = "internal"
)

// Code maps an error onto its wire code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrBackend):
		return CodeBackend
	case errors.Is(err, ErrMalformedInput):
		return CodeMalformedInput
	case errors.Is(err, ErrNotInitialized):
		return CodeNotInitialized
	case errors.Is(err, ErrUnknownOperation):
		return CodeUnknownOperation
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternal
	}
}
