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

// Package health runs liveness, readiness and startup probes for the signer
// daemon. Readiness covers the signing backend and the policy storage.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jeremyhahn/go-frostsigner/pkg/backend"
	"github.com/jeremyhahn/go-frostsigner/pkg/storage"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component is functioning but with reduced capacity.
	StatusDegraded Status = "degraded"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc performs one readiness check. It should return quickly.
type CheckFunc func(ctx context.Context) CheckResult

// Checker manages health checks following Kubernetes probe semantics.
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	checks    map[string]CheckFunc
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
	}
}

// RegisterCheck adds or replaces the check called name. Nil checks are ignored.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// MarkStarted marks initialization as complete.
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// Live reports that the process is serving.
func (c *Checker) Live(context.Context) CheckResult {
	return CheckResult{Name: "liveness", Status: StatusHealthy, Message: "Service is alive"}
}

// Ready runs every registered check, ordered by name.
func (c *Checker) Ready(ctx context.Context) []CheckResult {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	if len(names) == 0 {
		return []CheckResult{{Name: "default", Status: StatusHealthy, Message: "No readiness checks configured"}}
	}

	sort.Strings(names)
	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		start := time.Now()
		result := checks[name](ctx)
		result.Latency = time.Since(start)
		if result.Name == "" {
			result.Name = name
		}
		results = append(results, result)
	}
	return results
}

// Startup fails until MarkStarted is called.
func (c *Checker) Startup(context.Context) CheckResult {
	c.mu.RLock()
	started, startTime := c.started, c.startTime
	c.mu.RUnlock()

	if !started {
		return CheckResult{Name: "startup", Status: StatusUnhealthy, Message: "Service initialization not complete"}
	}
	return CheckResult{
		Name:    "startup",
		Status:  StatusHealthy,
		Message: fmt.Sprintf("Service fully initialized (uptime: %s)", time.Since(startTime).Round(time.Second)),
	}
}

// AggregateStatus is unhealthy if any result is, else degraded if any result
// is, else healthy.
func AggregateStatus(results []CheckResult) Status {
	status := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// BackendCheck reports the signing backend. A missing backend is degraded
// since exempt operations and settings still work.
func BackendCheck(b backend.Backend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		if b == nil {
			return CheckResult{Name: "backend", Status: StatusDegraded, Message: "no signing backend configured"}
		}
		reporter, ok := b.(backend.StatusReporter)
		if !ok {
			return CheckResult{Name: "backend", Status: StatusHealthy}
		}
		st, err := reporter.Status(ctx)
		if err != nil {
			return CheckResult{Name: "backend", Status: StatusUnhealthy, Error: err.Error()}
		}
		if !st.Ready {
			return CheckResult{Name: "backend", Status: StatusDegraded, Message: "signing node not ready"}
		}
		return CheckResult{Name: "backend", Status: StatusHealthy, Message: fmt.Sprintf("%d peers", st.Peers)}
	}
}

// StorageCheck reads a well-known key to prove the store answers.
func StorageCheck(s storage.Backend) CheckFunc {
	return func(context.Context) CheckResult {
		_, err := s.Get(storage.PoliciesKey)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return CheckResult{Name: "storage", Status: StatusUnhealthy, Error: err.Error()}
		}
		return CheckResult{Name: "storage", Status: StatusHealthy}
	}
}
