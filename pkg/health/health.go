// Package health runs liveness and readiness checks and serves them over HTTP.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// Check is a single named probe. Check returns nil when healthy.
type Check interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a plain function to the Check interface.
type CheckFunc struct {
	name string
	fn   func(context.Context) error
}

// NewCheckFunc creates a new CheckFunc with the given name and function.
func NewCheckFunc(name string, fn func(context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

// Name returns the name of this check.
func (c *CheckFunc) Name() string { return c.name }

// Check executes the check function.
func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckResult is the outcome of one check execution.
type CheckResult struct {
	Name    string
	Healthy bool
	Error   string
	Latency time.Duration
}

// HealthStatus aggregates the results of a probe.
type HealthStatus struct {
	Healthy bool
	Checks  []CheckResult
}

// HealthChecker holds liveness and readiness checks.
// A failing check only reports unhealthy after failureThreshold consecutive failures.
type HealthChecker struct {
	mu               sync.Mutex
	liveness         []Check
	readiness        []Check
	failures         map[string]int
	timeout          time.Duration
	failureThreshold int
	logger           logger.Logger
}

// Option configures a HealthChecker.
type Option func(*HealthChecker)

// WithTimeout sets the per-check timeout (default 5s).
func WithTimeout(d time.Duration) Option {
	return func(h *HealthChecker) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the logger for health check operations.
func WithLogger(l logger.Logger) Option {
	return func(h *HealthChecker) { h.logger = l }
}

// WithFailureThreshold sets how many consecutive failures make a check unhealthy (default 1).
func WithFailureThreshold(n int) Option {
	return func(h *HealthChecker) {
		if n > 0 {
			h.failureThreshold = n
		}
	}
}

// New creates a new HealthChecker with the given options.
func New(opts ...Option) *HealthChecker {
	h := &HealthChecker{
		failures:         make(map[string]int),
		timeout:          5 * time.Second,
		failureThreshold: 1,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddLivenessCheck registers a check deciding whether the process should be restarted.
func (h *HealthChecker) AddLivenessCheck(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, c)
}

// AddReadinessCheck registers a check deciding whether the process can take traffic.
func (h *HealthChecker) AddReadinessCheck(c Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, c)
}

// CheckLiveness runs all liveness checks.
func (h *HealthChecker) CheckLiveness(ctx context.Context) (*HealthStatus, error) {
	h.mu.Lock()
	checks := append([]Check(nil), h.liveness...)
	h.mu.Unlock()
	return h.run(ctx, checks)
}

// CheckReadiness runs all readiness checks.
func (h *HealthChecker) CheckReadiness(ctx context.Context) (*HealthStatus, error) {
	h.mu.Lock()
	checks := append([]Check(nil), h.readiness...)
	h.mu.Unlock()
	return h.run(ctx, checks)
}

func (h *HealthChecker) run(ctx context.Context, checks []Check) (*HealthStatus, error) {
	status := &HealthStatus{Healthy: true, Checks: make([]CheckResult, len(checks))}

	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			status.Checks[i] = h.runOne(ctx, c)
		}(i, c)
	}
	wg.Wait()

	var failed []string
	for _, r := range status.Checks {
		if !r.Healthy {
			status.Healthy = false
			failed = append(failed, r.Name)
		}
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		return status, fmt.Errorf("health checks failed: %v", failed)
	}
	return status, nil
}

func (h *HealthChecker) runOne(parent context.Context, c Check) CheckResult {
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{Name: c.Name(), Healthy: true, Latency: time.Since(start)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil {
		h.failures[res.Name] = 0
		return res
	}

	h.failures[res.Name]++
	n := h.failures[res.Name]
	if n < h.failureThreshold {
		return res
	}

	res.Healthy = false
	res.Error = err.Error()
	if h.logger != nil {
		h.logger.Warn("Health check failed",
			logger.StringField("check", res.Name),
			logger.ErrorField(err),
			logger.IntField("failures", n))
	}
	return res
}
