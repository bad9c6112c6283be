// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmengine.
//
// go-tpmengine is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package ratelimit throttles HTTP clients of the serve command so a
// single caller cannot monopolise the TPM.
package ratelimit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCleanupInterval = 10 * time.Minute
	defaultMaxIdle         = 30 * time.Minute
)

// Config holds rate limiter configuration.
type Config struct {
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`

	// RequestsPerSecond is the sustained per-client rate
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst allows short bursts above the sustained rate. Defaults to
	// RequestsPerSecond rounded up, and at least 1.
	Burst int `yaml:"burst"`

	// MaxIdle is how long a client may stay idle before its bucket is
	// dropped. Defaults to 30 minutes.
	MaxIdle time.Duration `yaml:"max_idle"`
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a token bucket per client address
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   rate.Limit
	burst   int
	maxIdle time.Duration
	enabled bool
}

// New creates a limiter. A nil or disabled config allows every request.
func New(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = &Config{}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = max(1, int(cfg.RequestsPerSecond+0.999))
	}
	maxIdle := cfg.MaxIdle
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdle
	}
	return &Limiter{
		clients: make(map[string]*client),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   burst,
		maxIdle: maxIdle,
		enabled: cfg.Enabled,
	}
}

// IsEnabled returns whether rate limiting is enabled.
func (l *Limiter) IsEnabled() bool {
	return l.enabled
}

// Allow reports whether a request from clientID may proceed now
func (l *Limiter) Allow(clientID string) bool {
	if !l.enabled {
		return true
	}
	return l.get(clientID, time.Now()).Allow()
}

// Wait blocks until clientID may proceed or ctx is done
func (l *Limiter) Wait(ctx context.Context, clientID string) error {
	if !l.enabled {
		return nil
	}
	return l.get(clientID, time.Now()).Wait(ctx)
}

func (l *Limiter) get(clientID string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[clientID]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[clientID] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Clients returns the number of tracked clients
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Prune drops clients idle since before now minus the idle limit
func (l *Limiter) Prune(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, c := range l.clients {
		if now.Sub(c.lastSeen) > l.maxIdle {
			delete(l.clients, id)
		}
	}
}

// Run prunes idle clients every interval until ctx is done
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if !l.enabled {
		return
	}
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Prune(now)
		}
	}
}

// Middleware rejects requests over the limit with 429 Too Many Requests.
// Clients are keyed by the host part of the remote address; forwarding
// headers are not trusted.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.Allow(clientIP(r)) {
				next.ServeHTTP(w, r)
				return
			}
			retry := time.Second
			if l.limit > 0 {
				retry = max(time.Second, time.Duration(float64(time.Second)/float64(l.limit)))
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"error": "rate limit exceeded",
				"code":  http.StatusTooManyRequests,
			})
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
