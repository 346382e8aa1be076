package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/allokapri/workspace-core/internal/infrastructure/config"
)

var pointTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestAuthEventPoint(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		outcome string
		role    string
		want    string
	}{
		{
			name:    "with role",
			event:   "login",
			outcome: "success",
			role:    "OWNER",
			want:    "auth_events,event=login,outcome=success,role=OWNER count=1i",
		},
		{
			name:    "role omitted when empty",
			event:   "login",
			outcome: "invalid_credentials",
			want:    "auth_events,event=login,outcome=invalid_credentials count=1i",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(authEventPoint(tt.event, tt.outcome, tt.role, pointTime), time.Second)
			if !strings.HasPrefix(line, tt.want+" ") {
				t.Errorf("line = %q, want prefix %q", line, tt.want)
			}
			if !strings.Contains(line, "1767323045") {
				t.Errorf("line = %q, missing timestamp", line)
			}
		})
	}
}

func TestSessionSweepPoint(t *testing.T) {
	line := write.PointToLineProtocol(sessionSweepPoint(7, 1500*time.Microsecond, pointTime), time.Second)

	if !strings.HasPrefix(line, "session_sweeps ") {
		t.Errorf("line = %q, want session_sweeps measurement without tags", line)
	}
	for _, want := range []string{"deleted=7i", "duration_ms=1.5"} {
		if !strings.Contains(line, want) {
			t.Errorf("line = %q, missing %q", line, want)
		}
	}
}

func TestBatchSettings(t *testing.T) {
	tests := []struct {
		name          string
		cfg           config.InfluxDBConfig
		wantSize      uint
		wantFlushMsec uint
	}{
		{"configured", config.InfluxDBConfig{BatchSize: 20, FlushInterval: 2}, 20, 2000},
		{"zero uses defaults", config.InfluxDBConfig{}, defaultBatchSize, defaultFlushInterval * 1000},
		{"negative uses defaults", config.InfluxDBConfig{BatchSize: -5, FlushInterval: -1}, defaultBatchSize, defaultFlushInterval * 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, flush := batchSettings(tt.cfg)
			if size != tt.wantSize || flush != tt.wantFlushMsec {
				t.Errorf("batchSettings() = (%d, %d), want (%d, %d)", size, flush, tt.wantSize, tt.wantFlushMsec)
			}
		})
	}
}
