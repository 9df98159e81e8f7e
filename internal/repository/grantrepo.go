package repository

import (
	"context"
	"time"

	"github.com/and161185/epoch-ledger/internal/model"
	"github.com/gofrs/uuid/v5"
)

// ActiveFunc decides whether an existing grant blocks a new one.
type ActiveFunc func(g model.ReadGrant) bool

// GrantRepository stores read grants.
type GrantRepository interface {
	// CreateIfNoneActive inserts g unless a non-ended grant for the same pair is active.
	// The check and the insert are serialized per (viewer, target) pair.
	CreateIfNoneActive(ctx context.Context, g *model.ReadGrant, active ActiveFunc) error

	// End stamps endedAt on a non-ended grant owned by viewerID; returns nil when nothing was ended.
	End(ctx context.Context, viewerID, grantID uuid.UUID, endedAt time.Time) (*model.ReadGrant, error)

	// ListOpen returns the pair's non-ended grants, newest first.
	ListOpen(ctx context.Context, viewerID, targetUserID uuid.UUID) ([]model.ReadGrant, error)

	// GetByID returns a grant by ID.
	GetByID(ctx context.Context, grantID uuid.UUID) (*model.ReadGrant, error)
}
