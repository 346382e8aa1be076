package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementAuthEvents    = "auth_events"
	measurementSessionSweeps = "session_sweeps"
)

// WriteAuthEvent records one auth event.
//
// Parameters:
//   - event: Event type (e.g., "login", "role_change")
//   - outcome: Result label (e.g., "success", "invalid_credentials", "ephemeral")
//   - role: Role of the principal involved, or "" when unknown
func (c *Client) WriteAuthEvent(event, outcome, role string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(authEventPoint(event, outcome, role, time.Now()))
}

// WriteSessionSweep records the result of one expired-session sweep.
func (c *Client) WriteSessionSweep(deleted int64, took time.Duration) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(sessionSweepPoint(deleted, took, time.Now()))
}

func authEventPoint(event, outcome, role string, at time.Time) *write.Point {
	tags := map[string]string{
		"event":   event,
		"outcome": outcome,
	}
	if role != "" {
		tags["role"] = role
	}
	return write.NewPoint(measurementAuthEvents, tags, map[string]any{"count": 1}, at)
}

func sessionSweepPoint(deleted int64, took time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		measurementSessionSweeps,
		nil,
		map[string]any{
			"deleted":     deleted,
			"duration_ms": float64(took.Microseconds()) / 1000, //nolint:mnd // microseconds to milliseconds
		},
		at,
	)
}
