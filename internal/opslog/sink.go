// Package opslog is the fire-and-forget operational event sink. The
// compliance ledger is authoritative; this side channel exists for
// cross-system visibility (dashboards, alerting) and is allowed to drop
// events. Services treat Log as best-effort and never fail a unit of work
// over it.
package opslog

import (
	"context"
	"log/slog"
	"time"
)

// Event is one operational fact pushed to the sink.
type Event struct {
	Action     string            `json:"action"`
	ActorID    string            `json:"actor_id,omitempty"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Sink accepts operational events. Implementations must be safe for
// concurrent use and must never block the caller for long.
type Sink interface {
	Log(ctx context.Context, event Event)
}

// Noop discards every event. Used in tests and when Kafka is not configured.
type Noop struct{}

func (Noop) Log(context.Context, Event) {}

// Logging mirrors events onto slog. Useful for local development.
type Logging struct {
	Logger *slog.Logger
}

func (s Logging) Log(_ context.Context, event Event) {
	s.Logger.Info("oplog event",
		"action", event.Action,
		"actor_id", event.ActorID,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
	)
}
