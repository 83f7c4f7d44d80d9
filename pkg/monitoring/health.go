package monitoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus is the state of the service or one of its dependencies
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const probeTimeout = 3 * time.Second

// Probe reports whether a dependency is usable. Wrap an error with Degraded
// to report a usable but impaired dependency.
type Probe func(ctx context.Context) error

type degraded struct{ err error }

func (d degraded) Error() string { return d.err.Error() }
func (d degraded) Unwrap() error { return d.err }

// Degraded marks err as an impairment rather than an outage
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return degraded{err}
}

// DependencyStatus is one dependency's line in the health report
type DependencyStatus struct {
	Status    HealthStatus `json:"status"`
	Critical  bool         `json:"critical"`
	Error     string       `json:"error,omitempty"`
	LatencyMs int64        `json:"latency_ms"`
}

// HealthReport is served on the health endpoint
type HealthReport struct {
	Status        HealthStatus                `json:"status"`
	Service       string                      `json:"service"`
	Version       string                      `json:"version"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Setup         map[string]interface{}      `json:"setup"`
	Dependencies  map[string]DependencyStatus `json:"dependencies"`
}

type dependency struct {
	probe    Probe
	critical bool
}

// HealthManager aggregates dependency probes with a description of how the
// service was set up (store driver, slot cache, broker). A failing critical
// dependency makes the service unhealthy; any other failure degrades it.
type HealthManager struct {
	service string
	version string
	started time.Time

	mu           sync.RWMutex
	setup        map[string]interface{}
	dependencies map[string]dependency
}

// NewHealthManager creates a health manager with no dependencies
func NewHealthManager(service, version string) *HealthManager {
	return &HealthManager{
		service:      service,
		version:      version,
		started:      time.Now(),
		setup:        make(map[string]interface{}),
		dependencies: make(map[string]dependency),
	}
}

// Describe records a fact about the running setup
func (hm *HealthManager) Describe(key string, value interface{}) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.setup[key] = value
}

// Depend registers a named dependency probe, replacing any earlier one
func (hm *HealthManager) Depend(name string, probe Probe, critical bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.dependencies[name] = dependency{probe: probe, critical: critical}
}

// Report probes every dependency concurrently
func (hm *HealthManager) Report(ctx context.Context) *HealthReport {
	hm.mu.RLock()
	setup := make(map[string]interface{}, len(hm.setup))
	for k, v := range hm.setup {
		setup[k] = v
	}
	deps := make(map[string]dependency, len(hm.dependencies))
	for k, v := range hm.dependencies {
		deps[k] = v
	}
	hm.mu.RUnlock()

	report := &HealthReport{
		Status:        HealthStatusHealthy,
		Service:       hm.service,
		Version:       hm.version,
		UptimeSeconds: int64(time.Since(hm.started).Seconds()),
		Setup:         setup,
		Dependencies:  make(map[string]DependencyStatus, len(deps)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, dep := range deps {
		wg.Add(1)
		go func(name string, dep dependency) {
			defer wg.Done()
			status := run(ctx, dep)
			mu.Lock()
			report.Dependencies[name] = status
			mu.Unlock()
		}(name, dep)
	}
	wg.Wait()

	for _, name := range sortedNames(report.Dependencies) {
		report.Status = worse(report.Status, report.Dependencies[name].Status)
	}
	return report
}

func run(ctx context.Context, dep dependency) DependencyStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := dep.probe(ctx)
	status := DependencyStatus{
		Status:    HealthStatusHealthy,
		Critical:  dep.critical,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err == nil {
		return status
	}

	status.Error = err.Error()
	var d degraded
	switch {
	case errors.As(err, &d), !dep.critical:
		status.Status = HealthStatusDegraded
	default:
		status.Status = HealthStatusUnhealthy
	}
	return status
}

func worse(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthStatusHealthy: 0, HealthStatusDegraded: 1, HealthStatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func sortedNames(m map[string]DependencyStatus) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// HTTPHandler serves the report; only an unhealthy service answers 503
func (hm *HealthManager) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hm.Report(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

// SQLProbe pings the pool and reports it degraded when the clinic's
// transactions are queuing for connections
func SQLProbe(db *sql.DB) Probe {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		stats := db.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			return Degraded(fmt.Errorf("all %d connections in use, %d waits so far", stats.MaxOpenConnections, stats.WaitCount))
		}
		return nil
	}
}
