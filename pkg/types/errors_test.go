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

package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"denied", ErrPermissionDenied, CodePermissionDenied},
		{"wrapped backend", fmt.Errorf("%w: node offline", ErrBackend), CodeBackend},
		{"malformed", fmt.Errorf("psbt: %w", ErrMalformedInput), CodeMalformedInput},
		{"not initialized", ErrNotInitialized, CodeNotInitialized},
		{"unknown op", ErrUnknownOperation, CodeUnknownOperation},
		{"rate limited", ErrRateLimited, CodeRateLimited},
		{"canceled", context.Canceled, CodeCanceled},
		{"other", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestOperationDomain(t *testing.T) {
	assert.Equal(t, DomainSigner, OpSignEvent.Domain())
	assert.Equal(t, DomainSigner, OpNip44Decrypt.Domain())
	assert.Equal(t, DomainWallet, OpWalletSignPsbt.Domain())
	assert.Equal(t, DomainLink, OpLinkResolve.Domain())
	assert.Equal(t, DomainNode, OpNodeReset.Domain())
	assert.Equal(t, DomainUnknown, Operation("bogus").Domain())

	for _, op := range Operations() {
		assert.NotEqual(t, DomainUnknown, op.Domain(), op)
	}
}
