package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/epoch-ledger/internal/errs"
	"github.com/and161185/epoch-ledger/internal/model"
	"github.com/and161185/epoch-ledger/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// RecordRepo implements RecordRepository using PostgreSQL.
type RecordRepo struct{ db *DB }

// NewRecordRepo constructs a record repository.
func NewRecordRepo(db *DB) *RecordRepo { return &RecordRepo{db: db} }

const (
	// Namespace 1 of the two-key advisory lock space: one key per user chain.
	lockChainSQL = `SELECT pg_advisory_xact_lock(1, hashtext($1::text))`

	selectTailSQL = `
SELECT id, recorded_at, record_hash
FROM epoch_records
WHERE user_id=$1
ORDER BY recorded_at DESC, id DESC
LIMIT 1
FOR UPDATE`

	insertRecordSQL = `
INSERT INTO epoch_records (id, user_id, recorded_at, record_type, payload, payload_canonical, prev_hash, record_hash, visibility)
VALUES ($1,$2,$3,$4,$5::jsonb,$6,$7,$8,$9)`

	recordColumns = `id, user_id, recorded_at, record_type, payload_canonical, prev_hash, record_hash, visibility`
)

// AppendChained serializes appends per user: it takes the user's chain lock,
// locks the tail row, lets build derive the next record from it, then writes
// the record and its attachments. Nothing is visible unless everything commits.
func (r *RecordRepo) AppendChained(
	ctx context.Context, userID uuid.UUID, build repository.BuildFunc,
) (rec *model.EpochRecord, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			rec, err = nil, e
		}
	}()

	if _, err = tx.Exec(ctx, lockChainSQL, userID); err != nil {
		return nil, fmt.Errorf("lock chain: %w", err)
	}

	var tail *model.ChainTail
	var t model.ChainTail
	switch scanErr := tx.QueryRow(ctx, selectTailSQL, userID).Scan(&t.RecordID, &t.RecordedAt, &t.RecordHash); {
	case scanErr == nil:
		tail = &t
	case errors.Is(scanErr, pgx.ErrNoRows):
	default:
		return nil, fmt.Errorf("select chain tail: %w", scanErr)
	}

	rec, err = build(tail)
	if err != nil {
		return nil, err
	}

	payload := string(rec.Payload)
	if _, err = tx.Exec(ctx, insertRecordSQL,
		rec.ID, rec.UserID, rec.RecordedAt, string(rec.RecordType),
		payload, payload, rec.PrevHash, rec.RecordHash, string(rec.Visibility),
	); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("chain link already taken: %w", errs.ErrConflict)
		}
		return nil, fmt.Errorf("insert record: %w", err)
	}

	if len(rec.Attachments) > 0 {
		sql, args := insertAttachments(rec.ID, rec.Attachments)
		if _, err = tx.Exec(ctx, sql, args...); err != nil {
			return nil, fmt.Errorf("insert attachments: %w", err)
		}
	}
	return rec, nil
}

// insertAttachments builds one multi-row INSERT for all attachments of a record.
func insertAttachments(recordID uuid.UUID, atts []model.Attachment) (string, []any) {
	var b strings.Builder
	b.WriteString(`INSERT INTO epoch_record_attachments (record_id, position, attachment_hash, storage_pointer) VALUES `)
	args := make([]any, 0, len(atts)*4)
	for i, a := range atts {
		if i > 0 {
			b.WriteByte(',')
		}
		n := i * 4
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4)
		args = append(args, recordID, i, a.AttachmentHash, a.StoragePointer)
	}
	return b.String(), args
}

// ListByUser returns the user's full history in chain order.
func (r *RecordRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.EpochRecord, error) {
	q := `SELECT ` + recordColumns + `
FROM epoch_records
WHERE user_id=$1
ORDER BY recorded_at ASC, id ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	out, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	const qa = `
SELECT a.record_id, a.attachment_hash, a.storage_pointer
FROM epoch_record_attachments a
JOIN epoch_records r ON r.id = a.record_id
WHERE r.user_id=$1
ORDER BY a.record_id, a.position`
	atts, err := r.attachments(ctx, qa, userID)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Attachments = atts[out[i].ID]
	}
	return out, nil
}

// GetByID returns a single record by id.
func (r *RecordRepo) GetByID(ctx context.Context, recordID uuid.UUID) (*model.EpochRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM epoch_records WHERE id=$1`
	rows, err := r.db.Pool.Query(ctx, q, recordID)
	if err != nil {
		return nil, err
	}
	out, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errs.ErrNotFound
	}
	rec := out[0]

	const qa = `
SELECT record_id, attachment_hash, storage_pointer
FROM epoch_record_attachments
WHERE record_id=$1
ORDER BY position`
	atts, err := r.attachments(ctx, qa, recordID)
	if err != nil {
		return nil, err
	}
	rec.Attachments = atts[rec.ID]
	return &rec, nil
}

func (r *RecordRepo) attachments(ctx context.Context, q string, arg any) (map[uuid.UUID][]model.Attachment, error) {
	rows, err := r.db.Pool.Query(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]model.Attachment)
	for rows.Next() {
		var (
			id  uuid.UUID
			att model.Attachment
		)
		if err := rows.Scan(&id, &att.AttachmentHash, &att.StoragePointer); err != nil {
			return nil, err
		}
		out[id] = append(out[id], att)
	}
	return out, rows.Err()
}

func scanRecords(rows pgx.Rows) ([]model.EpochRecord, error) {
	defer rows.Close()

	out := []model.EpochRecord{}
	for rows.Next() {
		var (
			rec        model.EpochRecord
			at         time.Time
			recordType string
			payload    string
			visibility string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &at, &recordType, &payload, &rec.PrevHash, &rec.RecordHash, &visibility); err != nil {
			return nil, err
		}
		rec.RecordedAt = at.UTC()
		rec.RecordType = model.RecordType(recordType)
		rec.Payload = json.RawMessage(payload)
		rec.Visibility = model.Visibility(visibility)
		out = append(out, rec)
	}
	return out, rows.Err()
}
