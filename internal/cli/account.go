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

package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-frostsigner/internal/server"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
	"github.com/jeremyhahn/go-frostsigner/pkg/wallet"
)

var accountNetwork string

// accountCmd prints the group key and its Taproot address
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Show the signer's public key and Taproot address",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := runAccount(ctx); err != nil {
			handleError(err)
		}
	},
}

func init() {
	accountCmd.Flags().StringVar(&accountNetwork, "network", "", "bitcoin network (overrides wallet.network)")
}

func runAccount(ctx context.Context) error {
	cfg, err := getConfig().LoadDaemonConfig()
	if err != nil {
		return err
	}
	network := cfg.Wallet.Network
	if accountNetwork != "" {
		network = accountNetwork
	}

	store, err := server.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	b, err := server.NewBackend(ctx, cfg.Backend, store, getConfig().Logger())
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("%w: backend type is none", types.ErrNotInitialized)
	}
	if closer, ok := b.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	groupKey := b.GroupPublicKey()
	account, err := wallet.Derive(groupKey, network)
	if err != nil {
		return err
	}
	return NewPrinter(getConfig().OutputFormat, os.Stdout).
		PrintAccount(hex.EncodeToString(backend.XOnly(groupKey)), account)
}
