package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"
)

// HealthChecker is a dependency the gateway needs to serve traffic.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type namedCheck struct {
	name    string
	checker HealthChecker
}

// HealthHandler serves the liveness and readiness endpoints.
type HealthHandler struct {
	checks  []namedCheck
	timeout time.Duration
}

const defaultCheckTimeout = 2 * time.Second

// NewHealthHandler checks Postgres and Redis. Pass nil for a dependency
// that is not configured.
func NewHealthHandler(db, cache HealthChecker) *HealthHandler {
	return &HealthHandler{
		checks:  []namedCheck{{"postgres", db}, {"redis", cache}},
		timeout: defaultCheckTimeout,
	}
}

// WithCheck adds a named readiness dependency, such as the nonce store.
func (h *HealthHandler) WithCheck(name string, checker HealthChecker) *HealthHandler {
	h.checks = append(h.checks, namedCheck{name, checker})
	return h
}

// WithTimeout bounds each dependency ping.
func (h *HealthHandler) WithTimeout(timeout time.Duration) *HealthHandler {
	if timeout > 0 {
		h.timeout = timeout
	}
	return h
}

// HealthResponse is the body of both health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz answers 200 while the process is serving.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz pings every dependency in parallel and answers 503 if any fails.
// A nonce store that cannot answer means sign-in cannot work, so the
// instance is taken out of rotation.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]string, len(h.checks))
	var wg sync.WaitGroup
	for i, c := range h.checks {
		if c.checker == nil {
			results[i] = "not configured"
			continue
		}
		wg.Add(1)
		go func(i int, checker HealthChecker) {
			defer wg.Done()
			results[i] = h.ping(r.Context(), checker)
		}(i, c.checker)
	}
	wg.Wait()

	checks := make(map[string]string, len(h.checks))
	status, code := "ok", http.StatusOK
	for i, c := range h.checks {
		checks[c.name] = results[i]
		if results[i] != "ok" && results[i] != "not configured" {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, HealthResponse{Status: status, Checks: checks})
}

func (h *HealthHandler) ping(ctx context.Context, checker HealthChecker) string {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := checker.Ping(ctx)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error: " + err.Error()
	}
}
