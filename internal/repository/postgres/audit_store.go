package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/epoch-ledger/internal/audit"
)

// AuditStore persists audit events into audit_events.
type AuditStore struct{ db *DB }

// NewAuditStore constructs an audit store.
func NewAuditStore(db *DB) *AuditStore { return &AuditStore{db: db} }

const insertAuditSQL = `
INSERT INTO audit_events (id, action, occurred_at, actor_id, subject_id, resource_id, detail)
VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb)`

// Append implements audit.Store.
func (s *AuditStore) Append(ctx context.Context, ev audit.Event) error {
	detail := []byte("{}")
	if len(ev.Detail) > 0 {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("marshal audit detail: %w", err)
		}
		detail = b
	}
	_, err := s.db.Pool.Exec(ctx, insertAuditSQL,
		ev.ID, string(ev.Action), ev.OccurredAt,
		nullableID(ev.ActorID), nullableID(ev.SubjectID), nullableID(ev.ResourceID),
		string(detail),
	)
	return err
}

func nullableID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
