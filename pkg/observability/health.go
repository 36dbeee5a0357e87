package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Dependency is something the readiness probe pings
type Dependency struct {
	Name string
	// Critical dependencies make the service unhealthy when they fail.
	// Non-critical ones only degrade it.
	Critical bool
	Check    func(ctx context.Context) error
}

// DatabaseDependency pings the relational store
func DatabaseDependency(db *sql.DB) Dependency {
	return Dependency{
		Name:     "database",
		Critical: true,
		Check: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			var one int
			return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
		},
	}
}

// RedisDependency pings the shared cache. The cache is optional so a
// failure only degrades the service.
func RedisDependency(client *redis.Client) Dependency {
	return Dependency{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthChecker runs dependency checks for the readiness probe
type HealthChecker struct {
	version      string
	timeout      time.Duration
	dependencies []Dependency
}

// NewHealthChecker creates a health checker over the given dependencies
func NewHealthChecker(version string, deps ...Dependency) *HealthChecker {
	return &HealthChecker{
		version:      version,
		timeout:      5 * time.Second,
		dependencies: deps,
	}
}

// Check pings every dependency concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.dependencies)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, dep := range h.dependencies {
		dep := dep
		g.Go(func() error {
			start := time.Now()
			err := dep.Check(gctx)
			ds := DependencyStatus{Status: StatusHealthy, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				ds.Status = StatusUnhealthy
				ds.Message = err.Error()
			}
			mu.Lock()
			status.Dependencies[dep.Name] = ds
			mu.Unlock()
			// never fail the group; one slow dependency must not cancel the rest
			return nil
		})
	}
	_ = g.Wait()

	names := make([]string, 0, len(h.dependencies))
	critical := make(map[string]bool, len(h.dependencies))
	for _, dep := range h.dependencies {
		names = append(names, dep.Name)
		critical[dep.Name] = dep.Critical
	}
	sort.Strings(names)
	for _, name := range names {
		if status.Dependencies[name].Status != StatusUnhealthy {
			continue
		}
		if critical[name] {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

// Liveness always answers 200 while the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// Readiness answers 503 when a critical dependency is down
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
