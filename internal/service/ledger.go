package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/and161185/epoch-ledger/internal/audit"
	"github.com/and161185/epoch-ledger/internal/errs"
	"github.com/and161185/epoch-ledger/internal/hashchain"
	"github.com/and161185/epoch-ledger/internal/model"
	"github.com/and161185/epoch-ledger/internal/overlay"
	"github.com/and161185/epoch-ledger/internal/repository"
)

// LedgerService appends to and reads users' hash-chained histories.
type LedgerService interface {
	// AppendRecord validates a draft and appends it to the owner's chain.
	AppendRecord(ctx context.Context, draft model.RecordDraft) (*model.EpochRecord, error)
	// ChangeVisibility appends a private visibility_changed record targeting one of the user's records.
	ChangeVisibility(ctx context.Context, userID, targetRecordID uuid.UUID, visibility string) (*model.EpochRecord, error)
	// ListRecordsForUser returns the full history with effective visibility.
	ListRecordsForUser(ctx context.Context, userID uuid.UUID) ([]model.EpochRecord, error)
	// ListVisibleRecordsForUser returns public (and optionally scout_visible) records with effective visibility.
	ListVisibleRecordsForUser(ctx context.Context, userID uuid.UUID, includeScoutVisible bool) ([]model.EpochRecord, error)
	// VerifyChain re-walks the stored chain and reports the first break, if any.
	VerifyChain(ctx context.Context, userID uuid.UUID) (model.ChainReport, error)
}

type LedgerServiceImpl struct {
	records repository.RecordRepository
	opts    options
}

// NewLedgerService constructs a LedgerService.
func NewLedgerService(records repository.RecordRepository, opts ...Option) *LedgerServiceImpl {
	return &LedgerServiceImpl{records: records, opts: buildOptions(opts)}
}

// AppendRecord validates input without touching storage, then appends under the
// user's chain lock. recorded_at is the later of now and the tail plus 1ms.
func (s *LedgerServiceImpl) AppendRecord(ctx context.Context, draft model.RecordDraft) (rec *model.EpochRecord, err error) {
	ctx, end := startSpan(ctx, "ledger.AppendRecord",
		attribute.String("user_id", draft.UserID.String()),
		attribute.String("record_type", string(draft.RecordType)),
	)
	defer func() { end(err) }()

	payload, err := validateDraft(draft)
	if err != nil {
		return nil, err
	}
	visibility := model.NormalizeVisibility(draft.Visibility)
	attachments := append([]model.Attachment(nil), draft.Attachments...)

	start := time.Now()
	rec, err = s.records.AppendChained(ctx, draft.UserID, func(tail *model.ChainTail) (*model.EpochRecord, error) {
		return s.buildNext(draft.UserID, draft.RecordType, payload, visibility, attachments, tail)
	})
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			s.opts.metrics.AppendConflict()
		}
		return nil, err
	}
	s.opts.metrics.RecordAppended(string(rec.RecordType), time.Since(start))
	s.opts.audit.Emit(ctx, audit.Event{
		Action:     audit.ActionRecordAppended,
		ActorID:    rec.UserID,
		SubjectID:  rec.UserID,
		ResourceID: rec.ID,
		Detail:     map[string]string{"record_type": string(rec.RecordType)},
	})
	return rec, nil
}

// buildNext derives the next chain record from the locked tail.
func (s *LedgerServiceImpl) buildNext(
	userID uuid.UUID, recordType model.RecordType, canonical string,
	visibility model.Visibility, attachments []model.Attachment, tail *model.ChainTail,
) (*model.EpochRecord, error) {
	at := s.opts.clock().Truncate(time.Millisecond)
	var prev *string
	if tail != nil {
		if floor := tail.RecordedAt.UTC().Truncate(time.Millisecond).Add(time.Millisecond); at.Before(floor) {
			at = floor
		}
		h := tail.RecordHash
		prev = &h
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("new record id: %w", err)
	}
	rec := &model.EpochRecord{
		ID:          id,
		UserID:      userID,
		RecordedAt:  at,
		RecordType:  recordType,
		Payload:     json.RawMessage(canonical),
		PrevHash:    prev,
		Visibility:  visibility,
		Attachments: attachments,
	}
	if rec.RecordHash, err = hashchain.HashRecord(*rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// validateDraft returns the canonical payload of a well-formed draft.
func validateDraft(d model.RecordDraft) (string, error) {
	if d.UserID == uuid.Nil {
		return "", fmt.Errorf("empty user id: %w", errs.ErrValidation)
	}
	if _, ok := model.ParseRecordType(string(d.RecordType)); !ok {
		return "", fmt.Errorf("unknown record type %q: %w", d.RecordType, errs.ErrValidation)
	}
	trimmed := bytes.TrimSpace(d.Payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("payload is required: %w", errs.ErrValidation)
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return "", fmt.Errorf("payload must be a JSON object or array: %w", errs.ErrValidation)
	}
	if !json.Valid(trimmed) {
		return "", fmt.Errorf("payload is not valid JSON: %w", errs.ErrValidation)
	}
	for i, a := range d.Attachments {
		if a.AttachmentHash == "" || a.StoragePointer == "" {
			return "", fmt.Errorf("attachment[%d] needs hash and storage pointer: %w", i, errs.ErrValidation)
		}
	}
	if d.RecordType == model.RecordVisibilityChanged {
		if _, err := parseVisibilityChange(trimmed); err != nil {
			return "", err
		}
	}
	canonical, err := hashchain.Canonicalize(trimmed)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, errs.ErrValidation)
	}
	return canonical, nil
}

// parseVisibilityChange accepts exactly {target_record_id, visibility}.
func parseVisibilityChange(payload []byte) (model.VisibilityChange, error) {
	var ch model.VisibilityChange
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ch); err != nil {
		return ch, fmt.Errorf("visibility_changed payload: %v: %w", err, errs.ErrValidation)
	}
	if _, err := uuid.FromString(ch.TargetRecordID); err != nil {
		return ch, fmt.Errorf("visibility_changed target_record_id: %w", errs.ErrValidation)
	}
	if _, ok := model.ParseVisibility(ch.Visibility); !ok {
		return ch, fmt.Errorf("visibility_changed visibility %q: %w", ch.Visibility, errs.ErrValidation)
	}
	return ch, nil
}

// ChangeVisibility confirms the target belongs to userID and appends the change.
// The change record itself is always private.
func (s *LedgerServiceImpl) ChangeVisibility(ctx context.Context, userID, targetRecordID uuid.UUID, visibility string) (rec *model.EpochRecord, err error) {
	ctx, end := startSpan(ctx, "ledger.ChangeVisibility",
		attribute.String("user_id", userID.String()),
		attribute.String("target_record_id", targetRecordID.String()),
	)
	defer func() { end(err) }()

	if userID == uuid.Nil || targetRecordID == uuid.Nil {
		return nil, fmt.Errorf("empty user or target id: %w", errs.ErrValidation)
	}
	vis, ok := model.ParseVisibility(visibility)
	if !ok {
		return nil, fmt.Errorf("unknown visibility %q: %w", visibility, errs.ErrValidation)
	}

	target, err := s.records.GetByID(ctx, targetRecordID)
	if err != nil {
		return nil, err
	}
	if target.UserID != userID {
		return nil, fmt.Errorf("record %s: %w", targetRecordID, errs.ErrNotFound)
	}

	payload, err := json.Marshal(model.VisibilityChange{
		TargetRecordID: targetRecordID.String(),
		Visibility:     string(vis),
	})
	if err != nil {
		return nil, err
	}
	rec, err = s.AppendRecord(ctx, model.RecordDraft{
		UserID:     userID,
		RecordType: model.RecordVisibilityChanged,
		Payload:    payload,
		Visibility: string(model.VisibilityPrivate),
	})
	if err != nil {
		return nil, err
	}
	s.opts.audit.Emit(ctx, audit.Event{
		Action:     audit.ActionVisibilityChanged,
		ActorID:    userID,
		SubjectID:  userID,
		ResourceID: targetRecordID,
		Detail:     map[string]string{"visibility": string(vis), "change_record_id": rec.ID.String()},
	})
	return rec, nil
}

// ListRecordsForUser returns the whole chain in (recorded_at, id) order with the overlay applied.
func (s *LedgerServiceImpl) ListRecordsForUser(ctx context.Context, userID uuid.UUID) (out []model.EpochRecord, err error) {
	ctx, end := startSpan(ctx, "ledger.ListRecordsForUser", attribute.String("user_id", userID.String()))
	defer func() { end(err) }()

	if userID == uuid.Nil {
		return nil, fmt.Errorf("empty user id: %w", errs.ErrValidation)
	}
	stored, err := s.records.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return overlay.Apply(stored), nil
}

// ListVisibleRecordsForUser never returns private records.
func (s *LedgerServiceImpl) ListVisibleRecordsForUser(ctx context.Context, userID uuid.UUID, includeScoutVisible bool) ([]model.EpochRecord, error) {
	all, err := s.ListRecordsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return overlay.FilterVisible(all, includeScoutVisible), nil
}

// VerifyChain checks stored rows as written, without the overlay.
func (s *LedgerServiceImpl) VerifyChain(ctx context.Context, userID uuid.UUID) (rep model.ChainReport, err error) {
	ctx, end := startSpan(ctx, "ledger.VerifyChain", attribute.String("user_id", userID.String()))
	defer func() { end(err) }()

	if userID == uuid.Nil {
		return model.ChainReport{}, fmt.Errorf("empty user id: %w", errs.ErrValidation)
	}
	stored, err := s.records.ListByUser(ctx, userID)
	if err != nil {
		return model.ChainReport{}, err
	}
	rep = hashchain.Verify(userID, stored)
	if !rep.Valid {
		s.opts.log.Warn("hash chain broken",
			zap.String("user_id", userID.String()),
			zap.Stringer("broken_at", rep.BrokenAt),
			zap.String("reason", rep.Reason),
		)
	}
	return rep, nil
}
