package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const checkTimeout = 5 * time.Second

// Pinger is anything that can report its own health: the repository, the
// price cache.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

type HealthChecker struct {
	mu       sync.RWMutex
	required map[string]Pinger
	optional map[string]Pinger
	ready    func() bool
	logger   *logrus.Logger
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func NewHealthChecker(logger *logrus.Logger) *HealthChecker {
	return &HealthChecker{
		required: make(map[string]Pinger),
		optional: make(map[string]Pinger),
		ready:    func() bool { return true },
		logger:   logger,
	}
}

// Require adds a dependency whose failure makes the service unhealthy.
func (h *HealthChecker) Require(name string, p Pinger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.required[name] = p
}

// Optional adds a dependency that is reported as degraded when down.
func (h *HealthChecker) Optional(name string, p Pinger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.optional[name] = p
}

// SetReady installs the readiness gate, typically "scheduler started".
func (h *HealthChecker) SetReady(ready func() bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

func (h *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		status := h.CheckHealth(ctx)
		writeStatus(w, status, status.Status != "unhealthy")
	}
}

// ReadyHandler additionally fails until the readiness gate opens.
func (h *HealthChecker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		status := h.CheckHealth(ctx)
		h.mu.RLock()
		ready := h.ready()
		h.mu.RUnlock()
		if ready {
			status.Services["scheduler"] = "healthy"
		} else {
			status.Services["scheduler"] = "starting"
			status.Status = "unhealthy"
		}
		writeStatus(w, status, status.Status != "unhealthy")
	}
}

func (h *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	services := make(map[string]string)
	overallStatus := "healthy"

	for _, name := range sortedNames(h.required) {
		if err := h.required[name].HealthCheck(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			overallStatus = "unhealthy"
			h.logger.WithError(err).WithField("service", name).Error("Health check failed")
		} else {
			services[name] = "healthy"
		}
	}

	for _, name := range sortedNames(h.optional) {
		if err := h.optional[name].HealthCheck(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			if overallStatus == "healthy" {
				overallStatus = "degraded"
			}
			h.logger.WithError(err).WithField("service", name).Warn("Optional dependency unhealthy")
		} else {
			services[name] = "healthy"
		}
	}

	return HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now().UTC(),
		Services:  services,
	}
}

func writeStatus(w http.ResponseWriter, status HealthStatus, healthy bool) {
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}

func sortedNames(m map[string]Pinger) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
