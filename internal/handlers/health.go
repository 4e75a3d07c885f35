package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/benvon/learning-stats/internal/queue"
)

const healthCheckTimeout = 5 * time.Second

// Pinger is a dependency that can report whether it is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker handles health check requests
type HealthChecker struct {
	store    Pinger
	redis    Pinger
	jobQueue queue.JobQueue
}

// NewHealthChecker creates a new health checker. redis and jobQueue may be
// nil when the deployment runs without them.
func NewHealthChecker(store Pinger, redis Pinger, jobQueue queue.JobQueue) *HealthChecker {
	return &HealthChecker{store: store, redis: redis, jobQueue: jobQueue}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles the /healthz endpoint
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	statusCode := http.StatusOK

	if r.URL.Query().Get("mode") == "extended" {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		checks := make(map[string]string)
		record := func(name string, err error) {
			if err != nil {
				response.Status = "unhealthy"
				checks[name] = "unhealthy: " + err.Error()
				return
			}
			checks[name] = "healthy"
		}

		if h.store != nil {
			record("store", h.store.Ping(ctx))
		}
		if h.redis != nil {
			record("redis", h.redis.Ping(ctx))
		} else {
			checks["redis"] = "not_configured"
		}
		if h.jobQueue != nil {
			record("queue", h.jobQueue.HealthCheck(ctx))
		} else {
			checks["queue"] = "not_configured"
		}

		response.Checks = checks
		if response.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
