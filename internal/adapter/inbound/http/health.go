package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// SinkCounter reports how many sinks a store holds.
type SinkCounter interface {
	Size() int
}

// QueueStats reports the state of the notification queue.
type QueueStats interface {
	QueueDepth() int
	QueueCapacity() int
	DroppedEvents() int64
}

// ConnectionCounter reports open real-time connections.
type ConnectionCounter interface {
	ConnectionCount() int
}

// HealthChecker verifies component health.
type HealthChecker struct {
	store    SinkCounter
	notifier QueueStats
	hub      ConnectionCounter
	version  string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(store SinkCounter, notifier QueueStats, hub ConnectionCounter, version string) *HealthChecker {
	return &HealthChecker{
		store:    store,
		notifier: notifier,
		hub:      hub,
		version:  version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.store != nil {
		// Size() takes every shard lock; a hang here means a stuck writer.
		checks["sink_store"] = fmt.Sprintf("ok: %d sinks", h.store.Size())
	} else {
		checks["sink_store"] = "not configured"
	}

	if h.notifier != nil {
		depth := h.notifier.QueueDepth()
		capacity := h.notifier.QueueCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		if percentFull > 90 {
			// >90% full means subscribers are not keeping up
			checks["notifier"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["notifier"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.notifier.DroppedEvents(); drops > 0 {
			checks["notifier_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["notifier"] = "not configured"
	}

	if h.hub != nil {
		checks["realtime_connections"] = fmt.Sprintf("%d", h.hub.ConnectionCount())
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable) // 503
		} else {
			w.WriteHeader(http.StatusOK) // 200
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}

// healthHandler is the fallback /health handler when no checker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
}
