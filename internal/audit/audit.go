// Package audit emits fire-and-forget events about ledger activity.
// Emitting never blocks or fails the operation that produced the event.
package audit

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Action names an audited operation.
type Action string

const (
	ActionRecordAppended    Action = "record_appended"
	ActionVisibilityChanged Action = "visibility_changed"
	ActionGrantStarted      Action = "read_grant_started"
	ActionGrantEnded        Action = "read_grant_ended"
	ActionRecordsRead       Action = "records_read"
)

// Event is one audited fact. Detail carries identifiers and counts only,
// never record payloads.
type Event struct {
	ID         uuid.UUID
	Action     Action
	OccurredAt time.Time
	ActorID    uuid.UUID // who did it
	SubjectID  uuid.UUID // whose ledger it touched
	ResourceID uuid.UUID // record or grant id, Nil when not applicable
	Detail     map[string]string
}

// Sink accepts events without reporting failure.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Store persists events.
type Store interface {
	Append(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, Event) {}
