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
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/prompt"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

// Common errors
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrForbiddenOrigin = errors.New("origin not allowed")
	ErrInternalError   = errors.New("internal server error")
)

// ErrorResponse is the body of every non-2xx response outside the request
// endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeError writes an error response to the client.
func writeError(w http.ResponseWriter, err error, statusCode int) {
	writeJSON(w, ErrorResponse{Error: err.Error(), Code: statusCode}, statusCode)
}

// writeErrorWithMessage writes an error response with a custom message.
func writeErrorWithMessage(w http.ResponseWriter, err error, message string, statusCode int) {
	writeJSON(w, ErrorResponse{Error: err.Error(), Message: message, Code: statusCode}, statusCode)
}

// mapErrorToStatusCode maps errors to HTTP status codes.
func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, prompt.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, storage.ErrInvalidKey),
		errors.Is(err, types.ErrMalformedInput),
		errors.Is(err, types.ErrUnknownOperation):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbiddenOrigin),
		errors.Is(err, types.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrBackend):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// codeToStatus maps a wire error code onto an HTTP status.
func codeToStatus(code string) int {
	switch code {
	case types.CodePermissionDenied:
		return http.StatusForbidden
	case types.CodeMalformedInput, types.CodeUnknownOperation:
		return http.StatusBadRequest
	case types.CodeRateLimited:
		return http.StatusTooManyRequests
	case types.CodeNotInitialized:
		return http.StatusServiceUnavailable
	case types.CodeBackend:
		return http.StatusBadGateway
	case types.CodeCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleError maps the error to a status code and writes the error response.
func handleError(w http.ResponseWriter, err error) {
	writeError(w, err, mapErrorToStatusCode(err))
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Default().Error("failed to encode JSON response", logger.Error(err))
	}
}
