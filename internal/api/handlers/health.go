package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse reports overall service health plus the state of each
// downstream dependency (database, broker, cache).
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	Checks        map[string]string `json:"checks,omitempty"`
}

var startedAt = time.Now()

// HealthHandler returns the /health endpoint: it runs every dependency
// check and reports "degraded" (still 200 — degraded is informational,
// liveness is the process itself) if any fails.
func HealthHandler(version string, dependencies map[string]func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		checks := make(map[string]string, len(dependencies))

		for name, check := range dependencies {
			if err := check(); err != nil {
				status = "degraded"
				checks[name] = "unhealthy: " + err.Error()
			} else {
				checks[name] = "healthy"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(HealthResponse{
			Status:        status,
			Version:       version,
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
			Checks:        checks,
		})
	}
}

// ReadyHandler returns the /ready endpoint: 503 until every dependency
// check passes, for load-balancer admission.
func ReadyHandler(dependencies map[string]func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, check := range dependencies {
			if err := check(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
