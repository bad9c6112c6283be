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

// Package health reports whether the engine can still reach its TPM.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component answered, but slowly.
	StatusDegraded Status = "degraded"
)

// DefaultCheckTimeout bounds a single check when the checker has no timeout
const DefaultCheckTimeout = 5 * time.Second

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// CheckFunc is a function that performs a health check. It must honour
// ctx cancellation.
type CheckFunc func(ctx context.Context) CheckResult

// Report is the outcome of running every registered check
type Report struct {
	Status  Status        `json:"status"`
	Started bool          `json:"started"`
	Uptime  string        `json:"uptime"`
	Checks  []CheckResult `json:"checks"`
}

// Checker runs named checks with a per-check deadline.
type Checker struct {
	mu        sync.RWMutex
	started   bool
	startTime time.Time
	timeout   time.Duration
	checks    map[string]CheckFunc
}

// NewChecker creates a checker whose checks are each bounded by timeout
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Checker{
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
		timeout:   timeout,
	}
}

// Register adds or replaces the check with the given name. A nil check
// is ignored.
func (c *Checker) Register(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// MarkStarted marks the service as ready to serve
func (c *Checker) MarkStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
}

// MarkStopping marks the service as shutting down
func (c *Checker) MarkStopping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// IsStarted returns true if the service has been marked as started.
func (c *Checker) IsStarted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

// Run executes every registered check in name order. A checker that has
// not been started, or is stopping, reports unhealthy.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	started, startTime := c.started, c.startTime
	c.mu.RUnlock()

	sort.Strings(names)
	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		results = append(results, c.runOne(ctx, name, checks[name]))
	}

	status := Aggregate(results)
	if !started {
		status = StatusUnhealthy
	}
	return Report{
		Status:  status,
		Started: started,
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		Checks:  results,
	}
}

func (c *Checker) runOne(ctx context.Context, name string, check CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result := check(ctx)
	result.Latency = time.Since(start)
	if result.Name == "" {
		result.Name = name
	}
	return result
}

// Aggregate returns the worst status in results. An empty result set is
// healthy.
func Aggregate(results []CheckResult) Status {
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

// Handler serves the report as JSON. Unhealthy reports are answered with
// 503 Service Unavailable; healthy and degraded ones with 200.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())

		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	})
}

// RandomSource fills buf from a random number generator
type RandomSource func(ctx context.Context, buf []byte) error

// RandomCheck returns a check that draws a few bytes from source. A
// failure is unhealthy and an answer slower than slow is degraded.
func RandomCheck(name string, source RandomSource, slow time.Duration) CheckFunc {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		buf := make([]byte, 8)
		if err := source(ctx, buf); err != nil {
			return CheckResult{
				Name:    name,
				Status:  StatusUnhealthy,
				Message: "random number generator unavailable",
				Error:   err.Error(),
			}
		}
		if err := ctx.Err(); err != nil {
			return CheckResult{
				Name:    name,
				Status:  StatusUnhealthy,
				Message: "check deadline exceeded",
				Error:   err.Error(),
			}
		}
		if slow > 0 && time.Since(start) > slow {
			return CheckResult{
				Name:    name,
				Status:  StatusDegraded,
				Message: "random number generator is slow",
			}
		}
		return CheckResult{
			Name:    name,
			Status:  StatusHealthy,
			Message: "random number generator reachable",
		}
	}
}
