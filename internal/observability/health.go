package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ComponentStatus is the health state of one tracked component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusUnhealthy ComponentStatus = "unhealthy"
	StatusUnknown   ComponentStatus = "unknown"
)

// ComponentHealth is the last observed state of a component.
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LastCheck time.Time       `json:"last_check"`
}

// HealthStatus aggregates all component states. The overall status is
// healthy only when every registered component is healthy; a component
// that has never been checked counts against readiness.
type HealthStatus struct {
	Status     ComponentStatus            `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// HealthCheckFunc probes one component. A nil return marks it healthy.
type HealthCheckFunc func(ctx context.Context) error

// HealthChecker tracks the gate's long-lived components (state store,
// rules watcher, audit writer) and serves their aggregate state.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	logger     *slog.Logger
}

func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		logger:     logger,
	}
}

// RegisterComponent adds a component in the unknown state. It stays
// unknown until the first UpdateComponentHealth or check.
func (h *HealthChecker) RegisterComponent(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = ComponentHealth{
		Status:    StatusUnknown,
		LastCheck: time.Now(),
	}
}

func (h *HealthChecker) UpdateComponentHealth(name string, status ComponentStatus, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// GetHealth snapshots the component map and derives the overall status.
func (h *HealthChecker) GetHealth() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snapshot := make(map[string]ComponentHealth, len(h.components))
	overall := StatusHealthy
	for name, component := range h.components {
		snapshot[name] = component
		if component.Status != StatusHealthy {
			overall = StatusUnhealthy
		}
	}

	return HealthStatus{
		Status:     overall,
		Components: snapshot,
		Timestamp:  time.Now(),
	}
}

// CheckComponent runs one probe and records the result.
func (h *HealthChecker) CheckComponent(ctx context.Context, name string, check HealthCheckFunc) {
	if err := check(ctx); err != nil {
		h.UpdateComponentHealth(name, StatusUnhealthy, err.Error())
		h.logger.Warn("component health check failed",
			"component", name,
			"error", err.Error())
		return
	}
	h.UpdateComponentHealth(name, StatusHealthy, "")
}

// StartPeriodicChecks probes every entry in checks on a fixed interval
// until ctx is cancelled. Each probe runs once immediately.
func (h *HealthChecker) StartPeriodicChecks(ctx context.Context, interval time.Duration, checks map[string]HealthCheckFunc) {
	for name, check := range checks {
		h.CheckComponent(ctx, name, check)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, check := range checks {
				h.CheckComponent(ctx, name, check)
			}
		}
	}
}

// HealthHandler serves the full component breakdown. Returns 503 when
// any component is not healthy so orchestrators can restart the gate.
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.GetHealth()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == StatusHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		if err := json.NewEncoder(w).Encode(health); err != nil {
			h.logger.Error("failed to encode health response",
				"error", err.Error())
		}
	}
}

// ReadyHandler serves a minimal ready/not-ready answer for probes that
// do not care about the breakdown.
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if h.GetHealth().Status == StatusHealthy {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ready"}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not_ready"}`))
	}
}
