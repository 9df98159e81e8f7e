// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/epoch-ledger/internal/model"
	"github.com/gofrs/uuid/v5"
)

// BuildFunc produces the next record of a chain given its locked tail (nil for an empty chain).
type BuildFunc func(tail *model.ChainTail) (*model.EpochRecord, error)

// RecordRepository provides append-only access to users' epoch records.
type RecordRepository interface {
	// AppendChained locks the user's chain tail, builds the next record from it and
	// persists record and attachments in one transaction.
	AppendChained(ctx context.Context, userID uuid.UUID, build BuildFunc) (*model.EpochRecord, error)

	// ListByUser returns the user's records with attachments, ordered by (recorded_at, id).
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.EpochRecord, error)

	// GetByID returns a single record by ID.
	GetByID(ctx context.Context, recordID uuid.UUID) (*model.EpochRecord, error)
}
