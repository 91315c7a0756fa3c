package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe checks one dependency.
type Probe interface {
	Check(ctx context.Context) error
}

// ProbeFunc adapts a function, e.g. (*sql.DB).PingContext, to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

// Checker handles the health check endpoints.
type Checker struct {
	probes  map[string]Probe
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker creates a health checker over the named probes.
func NewChecker(logger *slog.Logger, probes map[string]Probe) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		probes: probes,
		// If a dependency is slow (>200ms), we consider ourselves down to prevent traffic blackholes.
		timeout: 200 * time.Millisecond,
		logger:  logger,
	}
}

// RegisterRoutes registers the health check routes on the router.
func (c *Checker) RegisterRoutes(r chi.Router) {
	r.Get("/health", c.HandleHealth)   // Liveness
	r.Get("/ready", c.HandleReadiness) // Readiness
}

// HandleHealth provides a simple liveness check (Kubernetes Liveness Probe).
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Check runs every probe and returns the status per probe name.
func (c *Checker) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	names := make([]string, 0, len(c.probes))
	for name := range c.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	report := make(map[string]string, len(names)+1)
	ready := true
	for _, name := range names {
		if err := c.probes[name].Check(ctx); err != nil {
			c.logger.ErrorContext(ctx, "readiness check failed", "probe", name, "error", err)
			report[name] = "DOWN"
			ready = false
			continue
		}
		report[name] = "UP"
	}
	report["status"] = "UP"
	if !ready {
		report["status"] = "DOWN"
	}
	return report, ready
}

// HandleReadiness checks if the service is ready to accept traffic (Kubernetes Readiness Probe).
func (c *Checker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	report, ready := c.Check(r.Context())

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		c.logger.Error("failed to write health response", "error", err)
	}
}

// SyncGRPC mirrors readiness into the gRPC health service until ctx ends.
func (c *Checker) SyncGRPC(ctx context.Context, hs *health.Server, interval time.Duration) {
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if _, ready := c.Check(ctx); !ready {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}
