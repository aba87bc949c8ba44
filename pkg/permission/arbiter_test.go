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

package permission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage/memory"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

type failingReader struct{}

func (failingReader) GetStatus(string, types.Operation, *int) (policy.Status, error) {
	return policy.Unknown, errors.New("disk on fire")
}

func TestClassify(t *testing.T) {
	for _, op := range types.Operations() {
		t.Run(op.String(), func(t *testing.T) {
			assert.NotEqual(t, Unclassified, Classify(op))
		})
	}

	assert.Equal(t, Exempt, Classify(types.OpLinkResolve))
	assert.Equal(t, Exempt, Classify(types.OpNodeStatus))
	assert.Equal(t, Exempt, Classify(types.OpNodeReset))
	assert.Equal(t, Privileged, Classify(types.OpSignEvent))
	assert.Equal(t, Privileged, Classify(types.OpWalletSignPsbt))
	assert.Equal(t, Unclassified, Classify("deleteEverything"))
	assert.Equal(t, "privileged", Privileged.String())
}

func TestDomain(t *testing.T) {
	assert.Equal(t, types.DomainSigner, Domain(types.OpNip44Decrypt))
	assert.Equal(t, types.DomainWallet, Domain(types.OpWalletGetUtxos))
	assert.Equal(t, types.DomainLink, Domain(types.OpLinkResolve))
	assert.Equal(t, types.DomainNode, Domain(types.OpNodeReset))
}

func TestEvaluate(t *testing.T) {
	store := policy.NewStore(memory.New(), policy.WithLogger(logger.Nop()))
	require.NoError(t, store.Upsert("https://ok.example", types.OpGetPublicKey, true, nil))
	require.NoError(t, store.Upsert("https://no.example", types.OpGetPublicKey, false, nil))

	a := NewArbiter(store, logger.Nop())
	ctx := context.Background()

	tests := []struct {
		name    string
		host    string
		op      types.Operation
		want    policy.Status
		wantErr error
	}{
		{"exempt without policy", "https://any.example", types.OpNodeStatus, policy.Allow, nil},
		{"allowed", "https://ok.example", types.OpGetPublicKey, policy.Allow, nil},
		{"denied", "https://no.example", types.OpGetPublicKey, policy.Deny, nil},
		{"unknown", "https://new.example", types.OpGetPublicKey, policy.Unknown, nil},
		{"unrecognized", "https://ok.example", "bogus", policy.Unknown, types.ErrUnknownOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.Evaluate(ctx, tt.host, tt.op, nil)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluate_ExemptSkipsStore(t *testing.T) {
	a := NewArbiter(failingReader{}, logger.Nop())
	got, err := a.Evaluate(context.Background(), "h", types.OpLinkResolve, nil)
	require.NoError(t, err)
	assert.Equal(t, policy.Allow, got)

	_, err = a.Evaluate(context.Background(), "h", types.OpGetRelays, nil)
	assert.Error(t, err)
}

func TestEvaluate_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewArbiter(failingReader{}, logger.Nop())
	_, err := a.Evaluate(ctx, "h", types.OpGetPublicKey, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
