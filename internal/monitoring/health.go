package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/health"
	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// Health status constants
const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusReady     = "ready"
	statusNotReady  = "not_ready"
)

var (
	errRestorePending = errors.New("session restore has not completed")
	errShuttingDown   = errors.New("shutting down")
)

// SessionSource reports on the session registry.
type SessionSource interface {
	Restored() bool
	StateCounts() map[string]int
}

// Pinger checks that a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthMonitor manages health checks and monitoring endpoints for the application
type HealthMonitor struct {
	checker      *health.HealthChecker
	sessions     SessionSource
	logger       logger.Logger
	version      string
	startTime    time.Time
	shuttingDown atomic.Bool
}

// Config holds configuration for the health monitor
type Config struct {
	Logger   logger.Logger
	Version  string
	Sessions SessionSource
	// Storage is the config store backend. Optional.
	Storage Pinger
	// Transcoder reports whether voice notes can be converted. Optional, and only
	// reported under /health because text replies keep working without it.
	Transcoder       func() error
	Timeout          time.Duration // Health check timeout
	FailureThreshold int           // Number of consecutive failures before reporting unhealthy
}

// NewHealthMonitor creates a new health monitor with configured checks
func NewHealthMonitor(cfg Config) *HealthMonitor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	failureThreshold := cfg.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNopLogger()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	hm := &HealthMonitor{
		checker: health.New(
			health.WithLogger(cfg.Logger),
			health.WithTimeout(timeout),
			health.WithFailureThreshold(failureThreshold),
		),
		sessions:  cfg.Sessions,
		logger:    cfg.Logger,
		version:   version,
		startTime: time.Now(),
	}

	hm.checker.AddLivenessCheck(health.NewCheckFunc("process", func(context.Context) error {
		return nil
	}))

	hm.checker.AddReadinessCheck(health.NewCheckFunc("shutdown", func(context.Context) error {
		if hm.shuttingDown.Load() {
			return errShuttingDown
		}
		return nil
	}))
	if cfg.Sessions != nil {
		hm.checker.AddReadinessCheck(health.NewCheckFunc("session_restore", func(context.Context) error {
			if !cfg.Sessions.Restored() {
				return errRestorePending
			}
			return nil
		}))
	}
	if cfg.Storage != nil {
		hm.checker.AddReadinessCheck(health.NewCheckFunc("config_storage", cfg.Storage.Ping))
	}
	if cfg.Transcoder != nil {
		hm.checker.AddLivenessCheck(health.NewCheckFunc("transcoder", func(context.Context) error {
			if err := cfg.Transcoder(); err != nil {
				hm.logger.Warn("Voice notes cannot be transcoded", logger.ErrorField(err))
			}
			return nil
		}))
	}

	return hm
}

// LivenessHandler returns an HTTP handler for Kubernetes liveness probes
// GET /health/live - Returns 200 if the process is alive and can handle requests
func (hm *HealthMonitor) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := hm.checker.CheckLiveness(r.Context())

		response := map[string]interface{}{
			"status":    statusHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(hm.startTime).String(),
			"checks":    status.Checks,
		}
		code := http.StatusOK
		if err != nil {
			response["status"] = statusUnhealthy
			response["error"] = err.Error()
			code = http.StatusServiceUnavailable
			hm.logger.Error("Liveness check failed", logger.ErrorField(err))
		}
		writeJSON(w, code, response)
	}
}

// ReadinessHandler returns an HTTP handler for Kubernetes readiness probes
// GET /health/ready - Returns 200 once sessions are restored and config storage is reachable
func (hm *HealthMonitor) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := hm.checker.CheckReadiness(r.Context())

		response := map[string]interface{}{
			"status":    statusReady,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    status.Checks,
		}
		code := http.StatusOK
		if err != nil {
			response["status"] = statusNotReady
			response["error"] = err.Error()
			code = http.StatusServiceUnavailable
			hm.logger.Warn("Readiness check failed", logger.ErrorField(err))
		}
		writeJSON(w, code, response)
	}
}

// HealthHandler returns a combined health endpoint that includes both liveness and readiness
// GET /health - Returns comprehensive health status, including session counts by state
func (hm *HealthMonitor) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		livenessStatus, livenessErr := hm.checker.CheckLiveness(ctx)
		readinessStatus, readinessErr := hm.checker.CheckReadiness(ctx)

		liveness := map[string]interface{}{"status": statusHealthy, "checks": livenessStatus.Checks}
		readiness := map[string]interface{}{"status": statusReady, "checks": readinessStatus.Checks}
		response := map[string]interface{}{
			"status":    statusHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(hm.startTime).String(),
			"version":   hm.version,
			"liveness":  liveness,
			"readiness": readiness,
		}
		if hm.sessions != nil {
			response["sessions"] = hm.sessions.StateCounts()
		}

		code := http.StatusOK
		if livenessErr != nil {
			liveness["status"] = statusUnhealthy
			liveness["error"] = livenessErr.Error()
			code = http.StatusServiceUnavailable
		}
		if readinessErr != nil {
			readiness["status"] = statusNotReady
			readiness["error"] = readinessErr.Error()
			code = http.StatusServiceUnavailable
		}
		if code != http.StatusOK {
			response["status"] = statusUnhealthy
		}
		writeJSON(w, code, response)
	}
}

// RegisterHandlers registers all health check endpoints on the router
func (hm *HealthMonitor) RegisterHandlers(r chi.Router) {
	r.Get("/health", hm.HealthHandler())
	r.Get("/health/live", hm.LivenessHandler())
	r.Get("/health/ready", hm.ReadinessHandler())
}

// MarkShuttingDown makes readiness fail so load balancers drain the instance.
func (hm *HealthMonitor) MarkShuttingDown() {
	hm.shuttingDown.Store(true)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
