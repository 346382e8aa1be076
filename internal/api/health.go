package api

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the whole /health probe.
const healthCheckTimeout = 2 * time.Second

// HealthChecker is implemented by the database and the MQTT and InfluxDB
// clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependency is a component reported by /health. A failing Critical
// dependency turns the response into a 503; the rest only mark it degraded.
type Dependency struct {
	Name     string
	Check    HealthChecker
	Critical bool
}

// Health status values.
const (
	healthOK          = "ok"
	healthDegraded    = "degraded"
	healthUnavailable = "unavailable"
)

// HealthReport is the outcome of CheckDependencies.
type HealthReport struct {
	Status       string
	Components   map[string]string
	Errors       map[string]error
	CriticalDown bool
}

// CheckDependencies runs every check in order.
func CheckDependencies(ctx context.Context, deps []Dependency) HealthReport {
	report := HealthReport{
		Status:     healthOK,
		Components: make(map[string]string, len(deps)),
		Errors:     make(map[string]error),
	}
	for _, d := range deps {
		err := d.Check.HealthCheck(ctx)
		if err == nil {
			report.Components[d.Name] = healthOK
			continue
		}
		report.Components[d.Name] = healthUnavailable
		report.Errors[d.Name] = err
		switch {
		case d.Critical:
			report.CriticalDown = true
			report.Status = healthUnavailable
		case report.Status == healthOK:
			report.Status = healthDegraded
		}
	}
	return report
}

// handleHealth reports the service version and the state of each
// dependency. Error details stay in the logs.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	report := CheckDependencies(ctx, s.health)
	for name, err := range report.Errors {
		s.logger.Warn("dependency unhealthy", "component", name, "error", err)
	}

	code := http.StatusOK
	if report.CriticalDown {
		code = http.StatusServiceUnavailable
	}
	resp := map[string]any{
		"status":  report.Status,
		"version": s.version,
	}
	if len(report.Components) > 0 {
		resp["components"] = report.Components
	}
	writeJSON(w, code, resp)
}
