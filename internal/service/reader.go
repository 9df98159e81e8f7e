package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/epoch-ledger/internal/audit"
	"github.com/and161185/epoch-ledger/internal/errs"
	"github.com/and161185/epoch-ledger/internal/model"
)

// ReaderService serves one user's visible history to another under a read grant.
type ReaderService interface {
	ReadTargetRecords(ctx context.Context, req model.CrossRead) (*model.CrossReadResult, error)
}

type ReaderServiceImpl struct {
	ledger LedgerService
	grants GrantService
	opts   options
}

// NewReaderService constructs a ReaderService over the ledger and grant services.
func NewReaderService(ledger LedgerService, grants GrantService, opts ...Option) *ReaderServiceImpl {
	return &ReaderServiceImpl{ledger: ledger, grants: grants, opts: buildOptions(opts)}
}

// ReadTargetRecords resolves the viewer's grant (by id or by pair), confirms
// entitlement, then returns the target's visible records. time_window grants
// further restrict results to their fixed window.
func (s *ReaderServiceImpl) ReadTargetRecords(ctx context.Context, req model.CrossRead) (res *model.CrossReadResult, err error) {
	ctx, end := startSpan(ctx, "reader.ReadTargetRecords",
		attribute.String("viewer_id", req.ViewerID.String()),
		attribute.String("target_user_id", req.TargetUserID.String()),
		attribute.Bool("include_scout_visible", req.IncludeScoutVisible),
	)
	defer func() { end(err) }()

	if req.ViewerID == uuid.Nil || req.TargetUserID == uuid.Nil {
		return nil, fmt.Errorf("empty viewer or target id: %w", errs.ErrValidation)
	}
	if req.ViewerID == req.TargetUserID {
		s.opts.metrics.CrossReadRefused("self")
		return nil, fmt.Errorf("viewer %s is the target: %w", req.ViewerID, errs.ErrSelfReference)
	}

	// Lookups are independent; denial order stays fixed regardless of which finishes first.
	var (
		entitled = true
		grant    *model.ReadGrant
	)
	g, gctx := errgroup.WithContext(ctx)
	if s.opts.entitlement != nil {
		g.Go(func() error {
			ok, err := s.opts.entitlement.IsActive(gctx, req.ViewerID)
			if err != nil {
				return fmt.Errorf("entitlement lookup: %w", err)
			}
			entitled = ok
			return nil
		})
	}
	g.Go(func() error {
		var err error
		grant, err = s.resolveGrant(gctx, req)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !entitled {
		s.opts.metrics.CrossReadRefused("not_entitled")
		return nil, fmt.Errorf("viewer %s: %w", req.ViewerID, errs.ErrNotEntitled)
	}
	if grant == nil {
		s.opts.metrics.CrossReadRefused("no_grant")
		return nil, fmt.Errorf("viewer %s on %s: %w", req.ViewerID, req.TargetUserID, errs.ErrNoActiveGrant)
	}

	visible, err := s.ledger.ListVisibleRecordsForUser(ctx, req.TargetUserID, req.IncludeScoutVisible)
	if err != nil {
		return nil, err
	}
	records := visible
	if grant.Type == model.GrantTimeWindow {
		records = make([]model.EpochRecord, 0, len(visible))
		for _, r := range visible {
			if grant.InWindow(r.RecordedAt) {
				records = append(records, r)
			}
		}
	}

	s.opts.metrics.ObserveCrossRead(len(records))
	s.opts.audit.Emit(ctx, audit.Event{
		Action:     audit.ActionRecordsRead,
		ActorID:    req.ViewerID,
		SubjectID:  req.TargetUserID,
		ResourceID: grant.ID,
		Detail: map[string]string{
			"grant_type": string(grant.Type),
			"count":      strconv.Itoa(len(records)),
		},
	})
	return &model.CrossReadResult{Grant: *grant, Records: records}, nil
}

// resolveGrant returns nil without error when no usable grant exists.
func (s *ReaderServiceImpl) resolveGrant(ctx context.Context, req model.CrossRead) (*model.ReadGrant, error) {
	if req.GrantID == nil {
		return s.grants.GetActiveReadGrant(ctx, req.ViewerID, req.TargetUserID)
	}
	g, err := s.grants.GetReadGrantByID(ctx, req.ViewerID, *req.GrantID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if g.TargetUserID != req.TargetUserID || !IsReadGrantActive(*g, s.opts.clock()) {
		return nil, nil
	}
	return g, nil
}
