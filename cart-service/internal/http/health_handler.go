package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
	Probe     string            `json:"probe,omitempty"`
}

type HealthHandler struct {
	deps    map[string]Pinger
	service string
	version string
}

func NewHealthHandler(service, version string, deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps, service: service, version: version}
}

func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)
}

func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.status("UP", ""))
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.status("UP", "liveness"))
}

// Readiness pings every dependency and answers 503 if any is down.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st := h.status("UP", "readiness")
	st.Checks = map[string]string{}
	code := http.StatusOK
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			st.Checks[name] = "DOWN - " + err.Error()
			st.Status = "DOWN"
			code = http.StatusServiceUnavailable
			continue
		}
		st.Checks[name] = "UP"
	}

	respondJSON(w, code, st)
}

func (h *HealthHandler) status(status, probe string) HealthStatus {
	return HealthStatus{
		Status:    status,
		Service:   h.service,
		Version:   h.version,
		Timestamp: time.Now().UTC(),
		Probe:     probe,
	}
}
