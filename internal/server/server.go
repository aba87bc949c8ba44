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

// Package server assembles the signer daemon from its configuration: storage,
// the threshold backend, the policy store and arbiter, the prompt manager,
// the signing batcher, the request router and the REST API.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-frostsigner/internal/config"
	"github.com/jeremyhahn/go-frostsigner/internal/rest"
	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/audit"
	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/batch"
	"github.com/jeremyhahn/go-frostsigner/pkg/health"
	"github.com/jeremyhahn/go-frostsigner/pkg/metrics"
	"github.com/jeremyhahn/go-frostsigner/pkg/permission"
	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
	"github.com/jeremyhahn/go-frostsigner/pkg/prompt"
	"github.com/jeremyhahn/go-frostsigner/pkg/ratelimit"
	"github.com/jeremyhahn/go-frostsigner/pkg/router"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/wallet"
)

const collectorInterval = 15 * time.Second

// Server is the assembled signer daemon.
type Server struct {
	config *config.Config
	logger logger.Logger

	store    storage.Backend
	backend  backend.Backend
	policies *policy.Store
	surface  *prompt.QueueSurface
	prompts  *prompt.Manager
	batcher  *batch.Batcher
	limiter  *ratelimit.Limiter
	router   *router.Router

	restServer    *rest.Server
	healthChecker *health.Checker

	auditTrail *audit.MemoryAdapter
	stopAudit  func()

	// Metrics
	metricsCollector *metrics.ResourceCollector

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	listener     net.Listener
	errCh        chan error
	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger overrides the logger built from the logging section.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates the daemon. Nothing listens until Start is called.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:     cfg,
		logger:     setupLogger(cfg.Logging),
		ctx:        ctx,
		cancel:     cancel,
		errCh:      make(chan error, 1),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initialize(); err != nil {
		cancel()
		s.closeResources()
		return nil, err
	}
	return s, nil
}

// setupLogger builds the adapter described by the logging section.
func setupLogger(cfg config.LoggingConfig) logger.Logger {
	return logger.NewSlogAdapter(&logger.SlogConfig{
		Level:  logger.ParseLevel(cfg.Level),
		Format: cfg.Format,
		Output: os.Stderr,
	})
}

func (s *Server) initialize() error {
	cfg := s.config

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	store, err := OpenStorage(s.ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	s.store = store
	s.logger.Info("Storage opened", logger.String("backend", cfg.Storage.Backend))

	b, err := NewBackend(s.ctx, cfg.Backend, store, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize backend: %w", err)
	}
	s.backend = b
	if b == nil {
		s.logger.Warn("No signing backend configured; key operations will fail")
	} else {
		s.logger.Info("Signing backend ready", logger.String("type", cfg.Backend.Type))
	}

	s.policies = policy.NewStore(store, policy.WithLogger(s.logger))
	arbiter := permission.NewArbiter(s.policies, s.logger)

	s.auditTrail = audit.NewMemoryAdapter(audit.DefaultCapacity)
	s.stopAudit = audit.WatchPolicies(s.policies, s.auditTrail, s.logger)

	s.surface = prompt.NewQueueSurface()
	s.prompts = prompt.NewManager(arbiter, s.policies, s.surface,
		prompt.WithTimeout(cfg.Prompt.Timeout),
		prompt.WithLogger(s.logger))

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
			Burst:             cfg.RateLimit.Burst,
		})
	}

	rcfg := router.Config{
		Backend:          b,
		Arbiter:          arbiter,
		Prompts:          s.prompts,
		Settings:         store,
		Limiter:          s.limiter,
		Logger:           s.logger,
		Network:          cfg.Wallet.Network,
		VerifySignatures: true,
	}
	if b != nil {
		s.batcher = batch.New(b, cfg.Batch, batch.WithLogger(s.logger))
		rcfg.Batcher = s.batcher
	}
	if cfg.Wallet.EsploraURL != "" {
		esplora, err := wallet.NewEsplora(cfg.Wallet.EsploraURL, cfg.Wallet.Timeout, s.logger)
		if err != nil {
			return fmt.Errorf("failed to configure esplora: %w", err)
		}
		rcfg.Utxos = esplora
	}

	s.router, err = router.New(rcfg)
	if err != nil {
		return err
	}

	s.initializeHealth()

	authenticator, err := cfg.Auth.CreateAuthenticator()
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}
	tlsConfig, err := cfg.TLS.LoadTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to load TLS config: %w", err)
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	s.restServer, err = rest.NewServer(&rest.Config{
		Addr:           cfg.Server.Addr(),
		Requests:       s.router,
		Prompts:        s.prompts,
		Watcher:        s.surface,
		Policies:       s.policies,
		Settings:       store,
		Audit:          s.auditTrail,
		Health:         s.healthChecker,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MetricsPath:    metricsPath,
		TLSConfig:      tlsConfig,
		Authenticator:  authenticator,
		Logger:         s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create REST server: %w", err)
	}
	return nil
}

func (s *Server) initializeHealth() {
	s.healthChecker = health.NewChecker()
	s.healthChecker.RegisterCheck("backend", health.BackendCheck(s.backend))
	s.healthChecker.RegisterCheck("storage", health.StorageCheck(s.store))
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.Addr(), err)
	}
	s.listener = ln

	if s.config.Metrics.Enabled {
		s.metricsCollector = metrics.StartResourceCollector(s.ctx, collectorInterval)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.restServer.Serve(ln); err != nil {
			s.logger.Error("REST server failed", logger.Error(err))
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()

	s.healthChecker.MarkStarted()
	s.logger.Info("Signer started", logger.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once Start has returned.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Errors delivers a fatal serve error.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown stops the REST server and releases every component. It is safe
// to call more than once.
func (s *Server) Shutdown() error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down signer...")

		if s.metricsCollector != nil {
			s.metricsCollector.Stop()
		}
		s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if s.listener != nil {
			if stopErr := s.restServer.Stop(ctx); stopErr != nil {
				err = stopErr
			}
		}
		s.wg.Wait()

		s.closeResources()
		close(s.shutdownCh)
		s.logger.Info("Shutdown complete")
	})
	return err
}

// closeResources releases whatever initialize managed to build.
func (s *Server) closeResources() {
	if s.stopAudit != nil {
		s.stopAudit()
	}
	if s.batcher != nil {
		if err := s.batcher.Close(); err != nil {
			s.logger.Error("Error closing batcher", logger.Error(err))
		}
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if closer, ok := s.backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("Error closing backend", logger.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Error closing storage", logger.Error(err))
		}
	}
}

// WaitForShutdown blocks until Shutdown has completed.
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		cancel()
	}()

	return ctx
}

// Router returns the request router.
func (s *Server) Router() *router.Router {
	return s.router
}

// Policies returns the policy store.
func (s *Server) Policies() *policy.Store {
	return s.policies
}

// Prompts returns the prompt manager.
func (s *Server) Prompts() *prompt.Manager {
	return s.prompts
}

// Audit returns the audit trail.
func (s *Server) Audit() *audit.MemoryAdapter {
	return s.auditTrail
}

// RESTServer returns the REST server instance.
func (s *Server) RESTServer() *rest.Server {
	return s.restServer
}
