package api

import (
	"context"
	"time"

	"github.com/allokapri/workspace-core/internal/audit"
	"github.com/allokapri/workspace-core/internal/auth"
)

// eventChanSize bounds the queue of events awaiting MQTT publication.
const eventChanSize = 256

// Event outcomes.
const (
	outcomeSuccess            = "success"
	outcomeInvalidCredentials = "invalid_credentials"
)

// Audit sources.
const (
	sourceAPI    = "api"
	sourceSystem = "system"
)

// EventPublisher fans auth events out to a message bus.
// *mqtt.Client satisfies it.
type EventPublisher interface {
	PublishEvent(eventType string, event any) error
}

// TimeSeriesWriter records auth activity as time-series points.
// *influxdb.Client satisfies it.
type TimeSeriesWriter interface {
	WriteAuthEvent(event, outcome, role string)
	WriteSessionSweep(deleted int64, took time.Duration)
}

// authEvent is one auth-relevant occurrence. Action doubles as the audit
// action and the published event type.
type authEvent struct {
	Action     string
	Outcome    string
	EntityType string
	EntityID   string
	ActorID    string
	Role       auth.Role
	Source     string
	Details    map[string]any
}

// eventMessage is the JSON payload published for an authEvent.
type eventMessage struct {
	Type      string         `json:"type"`
	Outcome   string         `json:"outcome"`
	EntityID  string         `json:"entityId,omitempty"`
	ActorID   string         `json:"actorId,omitempty"`
	Role      string         `json:"role,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// recordEvent writes ev to the audit log, Prometheus, InfluxDB and the
// MQTT queue. None of these block the caller.
func (s *Server) recordEvent(ctx context.Context, ev authEvent) {
	if ev.Source == "" {
		ev.Source = sourceAPI
	}

	details := make(map[string]any, len(ev.Details)+1)
	for k, v := range ev.Details {
		details[k] = v
	}
	details["outcome"] = ev.Outcome
	s.auditLog(&audit.Log{
		Action:     ev.Action,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		UserID:     ev.ActorID,
		Source:     ev.Source,
		Details:    details,
	})

	s.metrics.authEvents.WithLabelValues(ev.Action, ev.Outcome).Inc()

	if s.timeSeries != nil {
		s.timeSeries.WriteAuthEvent(ev.Action, ev.Outcome, string(ev.Role))
	}

	if s.eventCh == nil {
		return
	}
	msg := eventMessage{
		Type:      ev.Action,
		Outcome:   ev.Outcome,
		EntityID:  ev.EntityID,
		ActorID:   ev.ActorID,
		Role:      string(ev.Role),
		RequestID: requestIDFrom(ctx),
		Details:   ev.Details,
		Timestamp: time.Now().UTC(),
	}
	select {
	case s.eventCh <- msg:
	default:
		s.metrics.droppedEvents.WithLabelValues("events").Inc()
		s.logger.Warn("event queue full, dropping event", "type", msg.Type)
	}
}

// drainEvents publishes queued events until ctx is cancelled, then
// publishes whatever is still queued.
func (s *Server) drainEvents(ctx context.Context) {
	for {
		select {
		case msg := <-s.eventCh:
			s.publish(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-s.eventCh:
					s.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) publish(msg eventMessage) {
	if err := s.events.PublishEvent(msg.Type, msg); err != nil {
		s.logger.Warn("publishing auth event failed", "type", msg.Type, "error", err)
	}
}

// SessionsSwept implements auth.SweepObserver.
func (s *Server) SessionsSwept(ctx context.Context, deleted int64, took time.Duration) {
	s.metrics.sessionsSwept.Add(float64(deleted))
	if s.timeSeries != nil {
		s.timeSeries.WriteSessionSweep(deleted, took)
	}
	s.recordEvent(ctx, authEvent{
		Action:     audit.ActionSessionSweep,
		Outcome:    outcomeSuccess,
		EntityType: audit.EntitySession,
		Source:     sourceSystem,
		Details: map[string]any{
			"deleted":     deleted,
			"duration_ms": took.Milliseconds(),
		},
	})
}
