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

package remote

import (
	"encoding/json"

	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
)

// Methods understood by a signing node.
const (
	MethodSign   = "sign"
	MethodECDH   = "ecdh"
	MethodStatus = "status"
)

type request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type inboundRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Message string `json:"message"`
}

// SignParams is the payload of a sign request.
type SignParams struct {
	Targets []backend.SignTarget `json:"targets"`
}

// SignResult is the payload of a sign response.
type SignResult struct {
	Signatures []backend.Signature `json:"signatures"`
}

// ECDHParams is the payload of an ecdh request.
type ECDHParams struct {
	Peer backend.Hex `json:"peer"`
}

// ECDHResult is the payload of an ecdh response.
type ECDHResult struct {
	Secret backend.Hex `json:"secret"`
}
