package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/and161185/epoch-ledger/internal/errs"
	"github.com/and161185/epoch-ledger/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

const (
	lockChainRe  = `SELECT pg_advisory_xact_lock\(1, hashtext\(\$1::text\)\)`
	selectTailRe = `SELECT id, recorded_at, record_hash FROM epoch_records WHERE user_id=\$1 ORDER BY recorded_at DESC, id DESC LIMIT 1 FOR UPDATE`
	insertRecRe  = `INSERT INTO epoch_records \(id, user_id, recorded_at, record_type, payload, payload_canonical, prev_hash, record_hash, visibility\)`
	insertAttRe  = `INSERT INTO epoch_record_attachments \(record_id, position, attachment_hash, storage_pointer\) VALUES \(\$1,\$2,\$3,\$4\),\(\$5,\$6,\$7,\$8\)`
)

func sampleRecord(userID uuid.UUID, prev *string, atts ...model.Attachment) *model.EpochRecord {
	return &model.EpochRecord{
		ID:          uuid.Must(uuid.NewV7()),
		UserID:      userID,
		RecordedAt:  time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
		RecordType:  model.RecordDecisionMade,
		Payload:     json.RawMessage(`{"a":1}`),
		PrevHash:    prev,
		RecordHash:  "hash",
		Visibility:  model.VisibilityPrivate,
		Attachments: atts,
	}
}

func TestRecordRepo_AppendChained_FirstRecord(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	rec := sampleRecord(userID, nil,
		model.Attachment{AttachmentHash: "h1", StoragePointer: "s3://a"},
		model.Attachment{AttachmentHash: "h2", StoragePointer: "s3://b"},
	)

	mock.ExpectBegin()
	mock.ExpectExec(lockChainRe).WithArgs(userID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(selectTailRe).WithArgs(userID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(insertRecRe).
		WithArgs(rec.ID, userID, rec.RecordedAt, "decision_made", `{"a":1}`, `{"a":1}`, rec.PrevHash, "hash", "private").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(insertAttRe).
		WithArgs(rec.ID, 0, "h1", "s3://a", rec.ID, 1, "h2", "s3://b").
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	var gotTail *model.ChainTail
	out, err := r.AppendChained(ctx, userID, func(tail *model.ChainTail) (*model.EpochRecord, error) {
		gotTail = tail
		return rec, nil
	})
	require.NoError(t, err)
	require.Nil(t, gotTail)
	require.Equal(t, rec.ID, out.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_AppendChained_PassesLockedTail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	tailID := uuid.Must(uuid.NewV7())
	tailAt := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	prev := "prevhash"
	rec := sampleRecord(userID, &prev)

	mock.ExpectBegin()
	mock.ExpectExec(lockChainRe).WithArgs(userID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(selectTailRe).WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "recorded_at", "record_hash"}).AddRow(tailID, tailAt, prev))
	mock.ExpectExec(insertRecRe).
		WithArgs(rec.ID, userID, rec.RecordedAt, "decision_made", `{"a":1}`, `{"a":1}`, rec.PrevHash, "hash", "private").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	out, err := r.AppendChained(ctx, userID, func(tail *model.ChainTail) (*model.EpochRecord, error) {
		require.NotNil(t, tail)
		require.Equal(t, tailID, tail.RecordID)
		require.Equal(t, prev, tail.RecordHash)
		require.True(t, tailAt.Equal(tail.RecordedAt))
		return rec, nil
	})
	require.NoError(t, err)
	require.Equal(t, &prev, out.PrevHash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_AppendChained_ForkRejected(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	rec := sampleRecord(userID, nil)

	mock.ExpectBegin()
	mock.ExpectExec(lockChainRe).WithArgs(userID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(selectTailRe).WithArgs(userID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(insertRecRe).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := r.AppendChained(ctx, userID, func(*model.ChainTail) (*model.EpochRecord, error) { return rec, nil })
	require.ErrorIs(t, err, errs.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_AppendChained_BuildErrRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectExec(lockChainRe).WithArgs(userID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(selectTailRe).WithArgs(userID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	boom := errors.New("boom")
	_, err := r.AppendChained(ctx, userID, func(*model.ChainTail) (*model.EpochRecord, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_AppendChained_AttachmentErrRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	rec := sampleRecord(userID, nil, model.Attachment{AttachmentHash: "h", StoragePointer: "p"})

	mock.ExpectBegin()
	mock.ExpectExec(lockChainRe).WithArgs(userID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(selectTailRe).WithArgs(userID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(insertRecRe).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO epoch_record_attachments`).WithArgs(rec.ID, 0, "h", "p").
		WillReturnError(errors.New("insert-fail"))
	mock.ExpectRollback()

	_, err := r.AppendChained(ctx, userID, func(*model.ChainTail) (*model.EpochRecord, error) { return rec, nil })
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_AppendChained_LockAndBeginErrors(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	never := func(*model.ChainTail) (*model.EpochRecord, error) {
		t.Fatal("build must not run")
		return nil, nil
	}

	mock.ExpectBegin().WillReturnError(errors.New("begin-fail"))
	_, err := r.AppendChained(ctx, userID, never)
	require.Error(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(lockChainRe).WithArgs(userID).WillReturnError(errors.New("lock-fail"))
	mock.ExpectRollback()
	_, err = r.AppendChained(ctx, userID, never)
	require.Error(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(lockChainRe).WithArgs(userID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(selectTailRe).WithArgs(userID).WillReturnError(errors.New("scan-fail"))
	mock.ExpectRollback()
	_, err = r.AppendChained(ctx, userID, never)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_AppendChained_CommitErr(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	rec := sampleRecord(userID, nil)

	mock.ExpectBegin()
	mock.ExpectExec(lockChainRe).WithArgs(userID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(selectTailRe).WithArgs(userID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(insertRecRe).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit().WillReturnError(errors.New("commit-fail"))

	out, err := r.AppendChained(ctx, userID, func(*model.ChainTail) (*model.EpochRecord, error) { return rec, nil })
	require.Error(t, err)
	require.Nil(t, out)
}

var recordCols = []string{"id", "user_id", "recorded_at", "record_type", "payload_canonical", "prev_hash", "record_hash", "visibility"}

func TestRecordRepo_ListByUser(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	id1, id2 := uuid.Must(uuid.NewV7()), uuid.Must(uuid.NewV7())
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	h1 := "h1"

	mock.ExpectQuery(`SELECT id, user_id, recorded_at, record_type, payload_canonical, prev_hash, record_hash, visibility FROM epoch_records WHERE user_id=\$1 ORDER BY recorded_at ASC, id ASC`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(recordCols).
			AddRow(id1, userID, ts, "decision_made", `{"a":1}`, nil, h1, "public").
			AddRow(id2, userID, ts.Add(time.Millisecond), "invited", `[1]`, &h1, "h2", "private"))
	mock.ExpectQuery(`SELECT a.record_id, a.attachment_hash, a.storage_pointer FROM epoch_record_attachments a JOIN epoch_records r ON r.id = a.record_id WHERE r.user_id=\$1 ORDER BY a.record_id, a.position`).
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"record_id", "attachment_hash", "storage_pointer"}).
			AddRow(id2, "ah1", "ptr1").
			AddRow(id2, "ah2", "ptr2"))

	out, err := r.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Nil(t, out[0].PrevHash)
	require.Equal(t, model.VisibilityPublic, out[0].Visibility)
	require.Empty(t, out[0].Attachments)
	require.Equal(t, model.RecordInvited, out[1].RecordType)
	require.Equal(t, h1, *out[1].PrevHash)
	require.Equal(t, json.RawMessage(`[1]`), out[1].Payload)
	require.Equal(t, []model.Attachment{{AttachmentHash: "ah1", StoragePointer: "ptr1"}, {AttachmentHash: "ah2", StoragePointer: "ptr2"}}, out[1].Attachments)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_ListByUser_Empty(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)
	userID := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM epoch_records WHERE user_id=\$1`).WithArgs(userID).
		WillReturnRows(pgxmock.NewRows(recordCols))

	out, err := r.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Empty(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRepo_GetByID_OK_And_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)

	ctx := context.Background()
	userID := uuid.Must(uuid.NewV4())
	id := uuid.Must(uuid.NewV7())
	ts := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, user_id, recorded_at, record_type, payload_canonical, prev_hash, record_hash, visibility FROM epoch_records WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(recordCols).AddRow(id, userID, ts, "declined", `{}`, nil, "h", "scout_visible"))
	mock.ExpectQuery(`SELECT record_id, attachment_hash, storage_pointer FROM epoch_record_attachments WHERE record_id=\$1 ORDER BY position`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"record_id", "attachment_hash", "storage_pointer"}))

	rec, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, userID, rec.UserID)
	require.Equal(t, model.VisibilityScoutVisible, rec.Visibility)

	mock.ExpectQuery(`FROM epoch_records WHERE id=\$1`).WithArgs(id).WillReturnRows(pgxmock.NewRows(recordCols))
	_, err = r.GetByID(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRecordRepo_ListByUser_QueryErr(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRecordRepo(db)
	uid := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM epoch_records WHERE user_id=\$1`).WithArgs(uid).WillReturnError(errors.New("q-fail"))
	_, err := r.ListByUser(context.Background(), uid)
	require.Error(t, err)
}

func Test_insertAttachments_Placeholders(t *testing.T) {
	id := uuid.Must(uuid.NewV7())
	sql, args := insertAttachments(id, []model.Attachment{{AttachmentHash: "a", StoragePointer: "x"}, {AttachmentHash: "b", StoragePointer: "y"}, {AttachmentHash: "c", StoragePointer: "z"}})
	require.Contains(t, sql, "($1,$2,$3,$4),($5,$6,$7,$8),($9,$10,$11,$12)")
	require.Equal(t, []any{id, 0, "a", "x", id, 1, "b", "y", id, 2, "c", "z"}, args)
}
