package health

import (
	"encoding/json"
	"net/http"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// HealthResponse is the JSON body returned by the probe handlers.
type HealthResponse struct {
	Status  string                 `json:"status"` // "healthy" | "unhealthy"
	Checks  map[string]CheckStatus `json:"checks,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// CheckStatus is one check's entry in HealthResponse.
type CheckStatus struct {
	Status  string `json:"status"` // "ok" | "error"
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// LivenessHandler serves liveness: 200 when alive, 503 otherwise.
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := h.CheckLiveness(r.Context())
		h.write(w, status, err)
	}
}

// ReadinessHandler serves readiness: 200 when ready for traffic, 503 otherwise.
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := h.CheckReadiness(r.Context())
		h.write(w, status, err)
	}
}

func (h *HealthChecker) write(w http.ResponseWriter, status *HealthStatus, err error) {
	resp := HealthResponse{Status: "healthy", Checks: make(map[string]CheckStatus, len(status.Checks))}
	code := http.StatusOK
	if !status.Healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		if err != nil {
			resp.Message = err.Error()
		}
	}

	for _, c := range status.Checks {
		cs := CheckStatus{Status: "ok", Latency: c.Latency.String()}
		if !c.Healthy {
			cs.Status = "error"
			cs.Error = c.Error
		}
		resp.Checks[c.Name] = cs
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil && h.logger != nil {
		h.logger.Error("Failed to encode health response", logger.ErrorField(err))
	}
}
