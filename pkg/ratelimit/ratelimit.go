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

// Package ratelimit throttles callers with one token bucket per key. The
// router keys buckets by requesting web origin; the HTTP middleware keys them
// by client address.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements a token bucket rate limiter with per-key tracking.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rate     rate.Limit
	burst    int
	enabled  bool

	maxIdle  time.Duration
	stopOnce sync.Once
	stop     chan struct{}
}

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`

	// RequestsPerMinute sets the sustained rate per key.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Burst allows short bursts above the sustained rate. Defaults to
	// RequestsPerMinute.
	Burst int `yaml:"burst"`

	// CleanupInterval controls how often idle keys are dropped. Defaults to
	// 10 minutes.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// MaxIdle is how long a key can be idle before cleanup. Defaults to 30
	// minutes.
	MaxIdle time.Duration `yaml:"max_idle"`
}

// New creates a new rate limiter. A nil config disables limiting.
func New(config *Config) *Limiter {
	if config == nil {
		config = &Config{}
	}

	burst := config.Burst
	if burst == 0 {
		burst = config.RequestsPerMinute
	}
	cleanupInterval := config.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 10 * time.Minute
	}
	maxIdle := config.MaxIdle
	if maxIdle == 0 {
		maxIdle = 30 * time.Minute
	}

	l := &Limiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     rate.Limit(float64(config.RequestsPerMinute) / 60.0),
		burst:    burst,
		enabled:  config.Enabled,
		maxIdle:  maxIdle,
		stop:     make(chan struct{}),
	}

	if config.Enabled {
		go l.cleanupWorker(cleanupInterval)
	}
	return l
}

func (l *Limiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}
	l.lastSeen[key] = time.Now()
	return limiter
}

// Allow reports whether a request for key is within its budget, consuming a
// token if so.
func (l *Limiter) Allow(key string) bool {
	if !l.enabled {
		return true
	}
	return l.limiterFor(key).Allow()
}

// Wait blocks until key has a token or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if !l.enabled {
		return nil
	}
	return l.limiterFor(key).Wait(ctx)
}

func (l *Limiter) cleanupWorker(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now())
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, seen := range l.lastSeen {
		if now.Sub(seen) > l.maxIdle {
			delete(l.limiters, key)
			delete(l.lastSeen, key)
		}
	}
}

// Stop stops the cleanup worker. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// ActiveKeys returns the number of keys currently tracked.
func (l *Limiter) ActiveKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// IsEnabled returns whether rate limiting is enabled.
func (l *Limiter) IsEnabled() bool {
	return l.enabled
}

// Middleware returns an HTTP middleware that enforces rate limiting keyed by
// client IP.
func Middleware(limiter *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(ClientIP(r)) {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the client IP from the request, honoring X-Forwarded-For
// and X-Real-IP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
