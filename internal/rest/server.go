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

// Package rest exposes the signer over HTTP: the page request endpoint, the
// prompt and policy endpoints used by the approval UI, health probes and
// metrics.
package rest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/audit"
	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/auth"
	"github.com/jeremyhahn/go-frostsigner/pkg/adapters/logger"
	"github.com/jeremyhahn/go-frostsigner/pkg/correlation"
	"github.com/jeremyhahn/go-frostsigner/pkg/health"
	"github.com/jeremyhahn/go-frostsigner/pkg/metrics"
	"github.com/jeremyhahn/go-frostsigner/pkg/policy"
	"github.com/jeremyhahn/go-frostsigner/pkg/prompt"
	"github.com/jeremyhahn/go-frostsigner/pkg/router"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
	"github.com/jeremyhahn/go-frostsigner/pkg/types"
)

// RequestHandler serves page requests.
type RequestHandler interface {
	Handle(ctx context.Context, req router.Request) *router.Response
}

// PromptController answers the open prompt.
type PromptController interface {
	Respond(id string, d prompt.Decision) error
	Close(id string) error
	Current() *prompt.Prompt
	Waiters() int
}

// PromptWatcher blocks until a new prompt opens.
type PromptWatcher interface {
	Next(ctx context.Context, after string) (*prompt.Prompt, error)
}

// PolicyAdmin lists and revokes policies.
type PolicyAdmin interface {
	List() ([]policy.Policy, error)
	ListHost(host string) ([]policy.Policy, error)
	Revoke(host string, operation types.Operation, accept bool) error
	RevokeHost(host string) (int, error)
}

// Server represents the REST API server.
type Server struct {
	server        *http.Server
	tlsConfig     *tls.Config
	authenticator auth.Authenticator
	logger        logger.Logger

	requests RequestHandler
	prompts  PromptController
	watcher  PromptWatcher
	policies PolicyAdmin
	settings storage.Backend
	health   *health.Checker

	auditTrail audit.Adapter

	allowedOrigins []string
	metricsPath    string
	maxPromptWait  time.Duration
}

// Config holds the REST server configuration.
type Config struct {
	// Addr is the listen address (default 127.0.0.1:7777)
	Addr string

	Requests RequestHandler
	Prompts  PromptController
	Policies PolicyAdmin

	// Watcher enables long polling on GET /api/v1/prompt (optional)
	Watcher PromptWatcher

	// Settings backs the settings endpoints (optional)
	Settings storage.Backend

	// Audit receives administrative changes and serves GET /api/v1/audit
	// (optional)
	Audit audit.Adapter

	// Health serves the readiness probes (optional)
	Health *health.Checker

	// AllowedOrigins restricts which web origins may send page requests
	AllowedOrigins []string

	// MetricsPath mounts the Prometheus handler when set
	MetricsPath string

	// TLSConfig is the TLS configuration for HTTPS (optional)
	TLSConfig *tls.Config

	// Authenticator guards the prompt, policy and settings endpoints
	// (optional, defaults to NoOp)
	Authenticator auth.Authenticator

	Logger logger.Logger

	ReadTimeout time.Duration
	IdleTimeout time.Duration

	// MaxPromptWait caps a long poll for the next prompt (default 60s)
	MaxPromptWait time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Requests == nil || cfg.Prompts == nil || cfg.Policies == nil {
		return nil, fmt.Errorf("request handler, prompt controller and policy store are required")
	}

	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:7777"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.MaxPromptWait == 0 {
		cfg.MaxPromptWait = 60 * time.Second
	}

	authenticator := cfg.Authenticator
	if authenticator == nil {
		authenticator = auth.NewNoOpAuthenticator()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	checker := cfg.Health
	if checker == nil {
		checker = health.NewChecker()
	}

	s := &Server{
		tlsConfig:      cfg.TLSConfig,
		authenticator:  authenticator,
		logger:         log,
		requests:       cfg.Requests,
		prompts:        cfg.Prompts,
		watcher:        cfg.Watcher,
		policies:       cfg.Policies,
		settings:       cfg.Settings,
		health:         checker,
		auditTrail:     cfg.Audit,
		allowedOrigins: cfg.AllowedOrigins,
		metricsPath:    cfg.MetricsPath,
		maxPromptWait:  cfg.MaxPromptWait,
	}

	// WriteTimeout stays unset: page requests wait on a human.
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		TLSConfig:         cfg.TLSConfig,
	}
	return s, nil
}

// Handler returns the chi router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(correlation.Middleware)
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	r.Use(CORSMiddleware(s.allowedOrigins))

	r.Get("/health", s.HealthHandler)
	r.Head("/health", s.HealthHandler)
	r.Get("/health/live", s.LivenessHandler)
	r.Get("/health/ready", s.ReadinessHandler)
	r.Get("/health/startup", s.StartupHandler)

	if s.metricsPath != "" {
		r.Handle(s.metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Pages are untrusted and unauthenticated; the router enforces policy.
		r.Post("/request", s.RequestHandler)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.authenticator))

			r.Get("/prompt", s.GetPromptHandler)
			r.Post("/prompt/{id}", s.RespondPromptHandler)
			r.Delete("/prompt/{id}", s.ClosePromptHandler)

			r.Get("/policies", s.ListPoliciesHandler)
			r.Delete("/policies/{host}", s.RevokeHostHandler)
			r.Delete("/policies/{host}/{operation}/{accept}", s.RevokePolicyHandler)

			r.Get("/audit", s.ListAuditHandler)

			r.Get("/settings", s.ListSettingsHandler)
			r.Get("/settings/{name}", s.GetSettingHandler)
			r.Put("/settings/{name}", s.PutSettingHandler)
		})
	})

	return r
}

// Serve accepts connections on ln until Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting HTTP server",
		logger.String("addr", ln.Addr().String()),
		logger.Bool("tls", s.tlsConfig != nil),
		logger.String("auth", s.authenticator.Name()))

	var err error
	if s.tlsConfig != nil {
		err = s.server.ServeTLS(ln, "", "")
	} else {
		err = s.server.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Start listens on the configured address and serves.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Failed to shutdown server", logger.Error(err))
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Server stopped")
	return nil
}
