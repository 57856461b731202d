package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

type HealthChecker struct {
	mu           sync.RWMutex
	startedAt    time.Time
	breakerState string
	openCount    int
	protected    int
	lastRefresh  time.Time
	errors       []string
}

type HealthStatus struct {
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	BreakerState      string    `json:"breaker_state"`
	OpenPositions     int       `json:"open_positions"`
	ActiveProtections int       `json:"active_protections"`
	LastRefresh       time.Time `json:"last_refresh"`
	Uptime            string    `json:"uptime"`
	Errors            []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startedAt:    time.Now(),
		breakerState: "ACTIVE",
		errors:       make([]string, 0),
	}
}

// Refresh replaces the published risk state. Called periodically by the
// service loop.
func (h *HealthChecker) Refresh(breakerState string, openPositions, activeProtections int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakerState = breakerState
	h.openCount = openPositions
	h.protected = activeProtections
	h.lastRefresh = time.Now()
}

// RecordError marks the service unhealthy until the process restarts.
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > 20 {
		h.errors = h.errors[len(h.errors)-20:]
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if h.breakerState != "ACTIVE" && h.breakerState != "RECOVERING" {
		// A tripped breaker is an operational page, not a process failure.
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
		code = http.StatusInternalServerError
	}

	health := HealthStatus{
		Status:            status,
		Timestamp:         time.Now(),
		BreakerState:      h.breakerState,
		OpenPositions:     h.openCount,
		ActiveProtections: h.protected,
		LastRefresh:       h.lastRefresh,
		Uptime:            time.Since(h.startedAt).String(),
		Errors:            h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
