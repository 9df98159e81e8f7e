package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/and161185/epoch-ledger/internal/audit"
	"github.com/and161185/epoch-ledger/internal/errs"
	"github.com/and161185/epoch-ledger/internal/model"
	"github.com/and161185/epoch-ledger/internal/repository"
)

// GrantService manages read grants between a viewer and a target user.
type GrantService interface {
	// StartReadGrant creates a grant unless one is already active for the pair.
	StartReadGrant(ctx context.Context, viewerID, targetUserID uuid.UUID, grantType string) (*model.ReadGrant, error)
	// EndReadGrant ends the viewer's grant; nil, nil when there is nothing to end.
	EndReadGrant(ctx context.Context, viewerID, grantID uuid.UUID) (*model.ReadGrant, error)
	// GetActiveReadGrant returns the preferred active grant for the pair, or nil.
	GetActiveReadGrant(ctx context.Context, viewerID, targetUserID uuid.UUID) (*model.ReadGrant, error)
	// GetReadGrantByID returns one of the viewer's grants.
	GetReadGrantByID(ctx context.Context, viewerID, grantID uuid.UUID) (*model.ReadGrant, error)
}

// IsReadGrantActive reports whether g may be used at now.
func IsReadGrantActive(g model.ReadGrant, now time.Time) bool { return g.IsActive(now) }

type GrantServiceImpl struct {
	grants repository.GrantRepository
	opts   options
}

// NewGrantService constructs a GrantService.
func NewGrantService(grants repository.GrantRepository, opts ...Option) *GrantServiceImpl {
	return &GrantServiceImpl{grants: grants, opts: buildOptions(opts)}
}

// StartReadGrant fixes the grant's bounds at creation:
// time_window covers the last 90 days, read_session the next 60 minutes.
func (s *GrantServiceImpl) StartReadGrant(ctx context.Context, viewerID, targetUserID uuid.UUID, grantType string) (g *model.ReadGrant, err error) {
	ctx, end := startSpan(ctx, "grants.StartReadGrant",
		attribute.String("viewer_id", viewerID.String()),
		attribute.String("target_user_id", targetUserID.String()),
		attribute.String("type", grantType),
	)
	defer func() { end(err) }()

	if viewerID == uuid.Nil || targetUserID == uuid.Nil {
		return nil, fmt.Errorf("empty viewer or target id: %w", errs.ErrValidation)
	}
	if viewerID == targetUserID {
		return nil, fmt.Errorf("viewer %s is the target: %w", viewerID, errs.ErrSelfReference)
	}
	typ, ok := model.ParseGrantType(grantType)
	if !ok {
		return nil, fmt.Errorf("unknown grant type %q: %w", grantType, errs.ErrValidation)
	}
	if err := s.checkEntitled(ctx, viewerID); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("new grant id: %w", err)
	}
	now := s.opts.clock()
	g = &model.ReadGrant{
		ID:           id,
		ViewerID:     viewerID,
		TargetUserID: targetUserID,
		Type:         typ,
		CreatedAt:    now,
	}
	switch typ {
	case model.GrantTimeWindow:
		ws, we := now.Add(-model.TimeWindowSpan), now
		g.WindowStart, g.WindowEnd = &ws, &we
	case model.GrantReadSession:
		ss, se := now, now.Add(model.ReadSessionSpan)
		g.StartsAt, g.EndsAt = &ss, &se
	}

	if err := s.grants.CreateIfNoneActive(ctx, g, func(o model.ReadGrant) bool {
		return IsReadGrantActive(o, now)
	}); err != nil {
		return nil, err
	}

	s.opts.metrics.GrantStarted(string(typ))
	s.opts.audit.Emit(ctx, audit.Event{
		Action:     audit.ActionGrantStarted,
		ActorID:    viewerID,
		SubjectID:  targetUserID,
		ResourceID: g.ID,
		Detail:     map[string]string{"type": string(typ)},
	})
	return g, nil
}

func (s *GrantServiceImpl) checkEntitled(ctx context.Context, viewerID uuid.UUID) error {
	if s.opts.entitlement == nil {
		return nil
	}
	ok, err := s.opts.entitlement.IsActive(ctx, viewerID)
	if err != nil {
		return fmt.Errorf("entitlement lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("viewer %s: %w", viewerID, errs.ErrNotEntitled)
	}
	return nil
}

// EndReadGrant is idempotent: repeated calls after the first return nil, nil.
func (s *GrantServiceImpl) EndReadGrant(ctx context.Context, viewerID, grantID uuid.UUID) (g *model.ReadGrant, err error) {
	ctx, end := startSpan(ctx, "grants.EndReadGrant",
		attribute.String("viewer_id", viewerID.String()),
		attribute.String("grant_id", grantID.String()),
	)
	defer func() { end(err) }()

	if viewerID == uuid.Nil || grantID == uuid.Nil {
		return nil, fmt.Errorf("empty viewer or grant id: %w", errs.ErrValidation)
	}
	g, err = s.grants.End(ctx, viewerID, grantID, s.opts.clock())
	if err != nil || g == nil {
		return nil, err
	}

	s.opts.metrics.GrantEnded()
	s.opts.audit.Emit(ctx, audit.Event{
		Action:     audit.ActionGrantEnded,
		ActorID:    viewerID,
		SubjectID:  g.TargetUserID,
		ResourceID: g.ID,
		Detail:     map[string]string{"type": string(g.Type)},
	})
	return g, nil
}

// GetActiveReadGrant prefers read_session over time_window; within a type the
// newest grant wins.
func (s *GrantServiceImpl) GetActiveReadGrant(ctx context.Context, viewerID, targetUserID uuid.UUID) (*model.ReadGrant, error) {
	if viewerID == uuid.Nil || targetUserID == uuid.Nil {
		return nil, fmt.Errorf("empty viewer or target id: %w", errs.ErrValidation)
	}
	open, err := s.grants.ListOpen(ctx, viewerID, targetUserID)
	if err != nil {
		return nil, err
	}
	return pickActive(open, s.opts.clock()), nil
}

func pickActive(grants []model.ReadGrant, now time.Time) *model.ReadGrant {
	var best *model.ReadGrant
	for i := range grants {
		g := grants[i]
		if !IsReadGrantActive(g, now) {
			continue
		}
		if best == nil || preferGrant(g, *best) {
			best = &g
		}
	}
	return best
}

// preferGrant reports whether a should be chosen over b.
func preferGrant(a, b model.ReadGrant) bool {
	if a.Type != b.Type {
		return a.Type == model.GrantReadSession
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// GetReadGrantByID hides grants owned by other viewers behind ErrNotFound.
func (s *GrantServiceImpl) GetReadGrantByID(ctx context.Context, viewerID, grantID uuid.UUID) (*model.ReadGrant, error) {
	if viewerID == uuid.Nil || grantID == uuid.Nil {
		return nil, fmt.Errorf("empty viewer or grant id: %w", errs.ErrValidation)
	}
	g, err := s.grants.GetByID(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if g.ViewerID != viewerID {
		return nil, fmt.Errorf("grant %s: %w", grantID, errs.ErrNotFound)
	}
	return g, nil
}
