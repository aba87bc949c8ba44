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
	"net/http"

	"github.com/jeremyhahn/go-frostsigner/pkg/health"
)

// HealthCheckResponse represents the response for health check endpoints.
type HealthCheckResponse struct {
	// Status is the overall health status
	Status health.Status `json:"status"`
	// Message provides additional context
	Message string `json:"message,omitempty"`
	// Checks contains individual check results (for readiness)
	Checks []health.CheckResult `json:"checks,omitempty"`
}

// HealthHandler handles GET and HEAD /health as an alias of readiness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	s.readiness(w, r)
}

// LivenessHandler handles GET /health/live requests.
//
// Liveness only fails if the process is in an unrecoverable state.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	result := s.health.Live(r.Context())
	writeJSON(w, HealthCheckResponse{
		Status:  result.Status,
		Message: result.Message,
	}, probeStatus(result.Status))
}

// ReadinessHandler handles GET /health/ready requests.
//
// The signer may be alive but not ready, e.g. while the threshold node is
// unreachable.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	s.readiness(w, r)
}

// StartupHandler handles GET /health/startup requests.
func (s *Server) StartupHandler(w http.ResponseWriter, r *http.Request) {
	result := s.health.Startup(r.Context())
	writeJSON(w, HealthCheckResponse{
		Status:  result.Status,
		Message: result.Message,
	}, probeStatus(result.Status))
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	results := s.health.Ready(r.Context())
	overall := health.AggregateStatus(results)

	resp := HealthCheckResponse{
		Status: overall,
		Checks: results,
	}
	switch overall {
	case health.StatusHealthy:
		resp.Message = "All checks passed"
	case health.StatusDegraded:
		resp.Message = "Service is degraded"
	case health.StatusUnhealthy:
		resp.Message = "One or more checks failed"
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(probeStatus(overall))
		return
	}
	writeJSON(w, resp, probeStatus(overall))
}

// probeStatus maps a health status onto an HTTP status. Degraded still
// serves traffic.
func probeStatus(status health.Status) int {
	if status == health.StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
