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

// Package permission decides, for a web origin and an operation, whether the
// request may proceed without asking the user.
package permission

import (
	"context"
	"fmt"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/metrics"
	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

// Class is the permission class of an operation.
type Class int

const (
	// Unclassified operations are not recognized.
	Unclassified Class = iota
	// Exempt operations never require a decision.
	Exempt
	// Privileged operations require an allow policy or a human decision.
	Privileged
)

// String returns the class name.
func (c Class) String() string {
	switch c {
	case Exempt:
		return "exempt"
	case Privileged:
		return "privileged"
	default:
		return "unknown"
	}
}

var classes = map[types.Operation]Class{
	types.OpLinkResolve:  Exempt,
	types.OpNodeStatus:   Exempt,
	types.OpNodeReset:    Exempt,
	types.OpGetPublicKey: Privileged,
	types.OpGetRelays:    Privileged,
	types.OpSignEvent:    Privileged,

	types.OpNip04Encrypt: Privileged,
	types.OpNip04Decrypt: Privileged,
	types.OpNip44Encrypt: Privileged,
	types.OpNip44Decrypt: Privileged,

	types.OpWalletGetAccount: Privileged,
	types.OpWalletGetUtxos:   Privileged,
	types.OpWalletSignPsbt:   Privileged,
}

// Classify returns the class of operation.
func Classify(operation types.Operation) Class {
	return classes[operation]
}

// Domain returns the domain operation belongs to.
func Domain(operation types.Operation) types.Domain {
	return operation.Domain()
}

// PolicyReader is the part of the policy store the arbiter consults.
type PolicyReader interface {
	GetStatus(host string, operation types.Operation, kind *int) (policy.Status, error)
}

// Arbiter maps (host, operation, event kind) to Allow, Deny or Unknown.
type Arbiter struct {
	policies PolicyReader
	log      logger.Logger
}

// NewArbiter returns an Arbiter backed by policies.
func NewArbiter(policies PolicyReader, log logger.Logger) *Arbiter {
	if log == nil {
		log = logger.Default()
	}
	return &Arbiter{policies: policies, log: log}
}

// Evaluate returns the standing decision for the request. Exempt operations
// are allowed without consulting the store; unrecognized operations fail with
// ErrUnknownOperation.
func (a *Arbiter) Evaluate(ctx context.Context, host string, operation types.Operation, kind *int) (policy.Status, error) {
	if err := ctx.Err(); err != nil {
		return policy.Unknown, err
	}

	switch Classify(operation) {
	case Exempt:
		return policy.Allow, nil
	case Unclassified:
		return policy.Unknown, fmt.Errorf("%w: %q", types.ErrUnknownOperation, operation)
	}

	status, err := a.policies.GetStatus(host, operation, kind)
	if err != nil {
		logger.FromContext(ctx, a.log).Error("policy lookup failed",
			logger.Host(host), logger.Operation(operation.String()), logger.Error(err))
		return policy.Unknown, err
	}

	metrics.RecordDecision(operation.String(), status.String())
	return status, nil
}
