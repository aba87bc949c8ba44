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
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-frostsigner/internal/config"
	"github.com/jeremyhahn/go-frostsigner/internal/server"
	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend/remote"
)

var (
	nodeListen    string
	nodeToken     string
	nodeSecretKey string
)

// nodeCmd groups commands for the signing node side of the remote backend
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Signing node utilities",
}

// nodeServeCmd exposes a single-key backend over the remote node protocol so
// a signer configured with backend.type=remote can be run against it.
var nodeServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a single-key signing node over websocket",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runNode(); err != nil {
			handleError(err)
		}
	},
}

func init() {
	nodeServeCmd.Flags().StringVar(&nodeListen, "listen", "127.0.0.1:7778", "listen address")
	nodeServeCmd.Flags().StringVar(&nodeToken, "token", "", "bearer token clients must present")
	nodeServeCmd.Flags().StringVar(&nodeSecretKey, "secret-key", "", "hex secret key (default: generated and kept in storage)")
	nodeCmd.AddCommand(nodeServeCmd)
}

func runNode() error {
	cfg, err := getConfig().LoadDaemonConfig()
	if err != nil {
		return err
	}

	ctx := server.SetupSignalHandler()
	store, err := server.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	log := logger.NewSlogAdapter(&logger.SlogConfig{
		Level:  logger.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
	}).With(logger.String("component", "node"))

	b, err := server.NewBackend(ctx, config.BackendConfig{
		Type:  server.BackendLocal,
		Local: config.LocalConfig{SecretKey: nodeSecretKey},
	}, store, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              nodeListen,
		Handler:           remote.NewHandler(b, nodeToken, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("Signing node listening",
		logger.String("addr", nodeListen),
		logger.String("group_key", hex.EncodeToString(b.GroupPublicKey())),
		logger.String("pubkey", hex.EncodeToString(backend.XOnly(b.GroupPublicKey()))))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("node server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
