package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Checker defines the interface for components that can be health checked.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// DefaultTimeout bounds a full readiness sweep.
const DefaultTimeout = 5 * time.Second

// LastRunFunc reports when the last successful ranking run finished.
// ok is false when no run has completed yet.
type LastRunFunc func() (at time.Time, ok bool)

// HandlersConfig configures the health check handlers.
type HandlersConfig struct {
	// Checkers are keyed by the name reported in the response, e.g. "replica".
	Checkers map[string]Checker
	LastRun  LastRunFunc
	Timeout  time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Handlers provides liveness and readiness endpoints.
type Handlers struct {
	checkers map[string]Checker
	lastRun  LastRunFunc
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandlers creates health check handlers.
func NewHandlers(config HandlersConfig) *Handlers {
	h := &Handlers{
		checkers: config.Checkers,
		lastRun:  config.LastRun,
		timeout:  config.Timeout,
		logger:   config.Logger,
		now:      config.Now,
	}
	if h.timeout <= 0 {
		h.timeout = DefaultTimeout
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Response represents the JSON response for health checks.
type Response struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	LastRunAt string            `json:"last_run_at,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health (liveness probe).
// It reports the process as alive along with the last completed run, if any.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	response := Response{
		Status:    "healthy",
		Checks:    map[string]string{"runtime": "ok"},
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	if h.lastRun != nil {
		if at, ok := h.lastRun(); ok {
			response.LastRunAt = at.UTC().Format(time.RFC3339)
		}
	}

	h.write(w, http.StatusOK, response)
}

// Ready handles GET /ready (readiness probe).
// Every configured dependency is checked; any failure returns 503.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.checkers[name].HealthCheck(ctx); err != nil {
			checks[name] = "error"
			healthy = false
			h.logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
			continue
		}
		checks[name] = "ok"
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	h.write(w, statusCode, Response{
		Status:    status,
		Checks:    checks,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) write(w http.ResponseWriter, statusCode int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode health response", "error", err)
	}
}
