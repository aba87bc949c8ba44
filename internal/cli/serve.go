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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-frostsigner/internal/server"
)

var servePort int

// serveCmd runs the signer daemon
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signer daemon",
	Long: `Run the signer daemon: the page request endpoint, the prompt and policy
API used by the approval UI, health probes and metrics.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			handleError(err)
		}
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides server.port)")
}

func runServe() error {
	cfg, err := getConfig().LoadDaemonConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		_ = srv.Shutdown()
		return err
	}

	ctx := server.SetupSignalHandler()
	var serveErr error
	select {
	case <-ctx.Done():
		printVerbose("Shutdown signal received")
	case serveErr = <-srv.Errors():
	}

	if err := srv.Shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
