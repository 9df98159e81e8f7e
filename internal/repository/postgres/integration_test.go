//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/epoch-ledger/internal/audit"
	"github.com/and161185/epoch-ledger/internal/errs"
	"github.com/and161185/epoch-ledger/internal/migrate"
	"github.com/and161185/epoch-ledger/internal/model"
	"github.com/and161185/epoch-ledger/internal/repository/postgres"
	"github.com/and161185/epoch-ledger/internal/service"
)

func newDB(t *testing.T) *postgres.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("epoch"),
		tcpostgres.WithUsername("epoch"),
		tcpostgres.WithPassword("epoch"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, migrate.Up(ctx, dsn))

	db, err := postgres.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func draft(user uuid.UUID, i int) model.RecordDraft {
	return model.RecordDraft{
		UserID:     user,
		RecordType: model.RecordDecisionMade,
		Payload:    json.RawMessage(fmt.Sprintf(`{"i":%d,"b":[true,null]}`, i)),
		Visibility: "public",
		Attachments: []model.Attachment{
			{AttachmentHash: fmt.Sprintf("h%d", i), StoragePointer: "s3://bucket/" + fmt.Sprint(i)},
		},
	}
}

func TestLedger_ConcurrentAppendsFormOneChain(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	ledger := service.NewLedgerService(postgres.NewRecordRepo(db))

	users := []uuid.UUID{uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())}
	const perUser = 25

	g, gctx := errgroup.WithContext(ctx)
	for _, user := range users {
		for i := 0; i < perUser; i++ {
			g.Go(func() error {
				_, err := ledger.AppendRecord(gctx, draft(user, i))
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	for _, user := range users {
		recs, err := ledger.ListRecordsForUser(ctx, user)
		require.NoError(t, err)
		require.Len(t, recs, perUser)
		require.Nil(t, recs[0].PrevHash)
		for i := 1; i < len(recs); i++ {
			require.True(t, recs[i].RecordedAt.After(recs[i-1].RecordedAt), "timestamps must strictly increase")
			require.NotNil(t, recs[i].PrevHash)
			require.Equal(t, recs[i-1].RecordHash, *recs[i].PrevHash, "chain must not fork")
			require.Len(t, recs[i].Attachments, 1)
		}

		rep, err := ledger.VerifyChain(ctx, user)
		require.NoError(t, err)
		require.True(t, rep.Valid, rep.Reason)
		require.Equal(t, perUser, rep.Checked)
	}
}

func TestLedger_RecordsAreImmutable(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	ledger := service.NewLedgerService(postgres.NewRecordRepo(db))

	rec, err := ledger.AppendRecord(ctx, draft(uuid.Must(uuid.NewV4()), 1))
	require.NoError(t, err)

	_, err = db.Pool.Exec(ctx, `UPDATE epoch_records SET visibility = 'private' WHERE id = $1`, rec.ID)
	require.Error(t, err)
	_, err = db.Pool.Exec(ctx, `DELETE FROM epoch_records WHERE id = $1`, rec.ID)
	require.Error(t, err)

	got, err := postgres.NewRecordRepo(db).GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.RecordHash, got.RecordHash)
	require.JSONEq(t, string(rec.Payload), string(got.Payload))
}

func TestLedger_VisibilityOverlayAndCrossRead(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	ledger := service.NewLedgerService(postgres.NewRecordRepo(db))
	grants := service.NewGrantService(postgres.NewGrantRepo(db))
	reader := service.NewReaderService(ledger, grants)

	viewer, target := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	rec, err := ledger.AppendRecord(ctx, draft(target, 1))
	require.NoError(t, err)

	_, err = grants.StartReadGrant(ctx, viewer, target, "read_session")
	require.NoError(t, err)

	res, err := reader.ReadTargetRecords(ctx, model.CrossRead{ViewerID: viewer, TargetUserID: target})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	_, err = ledger.ChangeVisibility(ctx, target, rec.ID, "private")
	require.NoError(t, err)

	res, err = reader.ReadTargetRecords(ctx, model.CrossRead{ViewerID: viewer, TargetUserID: target, IncludeScoutVisible: true})
	require.NoError(t, err)
	require.Empty(t, res.Records, "hidden record must disappear from cross reads")

	all, err := ledger.ListRecordsForUser(ctx, target)
	require.NoError(t, err)
	require.Len(t, all, 2, "the original record stays in the chain")
}

func TestGrants_ConcurrentStartsYieldOne(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	grants := service.NewGrantService(postgres.NewGrantRepo(db))
	viewer, target := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	var won, conflicts atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 10; i++ {
		typ := "read_session"
		if i%2 == 1 {
			typ = "time_window"
		}
		g.Go(func() error {
			_, err := grants.StartReadGrant(gctx, viewer, target, typ)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, errs.ErrConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, won.Load())
	require.EqualValues(t, 9, conflicts.Load())

	active, err := grants.GetActiveReadGrant(ctx, viewer, target)
	require.NoError(t, err)
	require.NotNil(t, active)

	ended, err := grants.EndReadGrant(ctx, viewer, active.ID)
	require.NoError(t, err)
	require.NotNil(t, ended)
	again, err := grants.EndReadGrant(ctx, viewer, active.ID)
	require.NoError(t, err)
	require.Nil(t, again)

	_, err = grants.StartReadGrant(ctx, viewer, target, "time_window")
	require.NoError(t, err, "a new grant may start once the old one ended")
}

func TestAuditStore_PersistsEvents(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	store := postgres.NewAuditStore(db)

	ev := audit.Event{
		ID:         uuid.Must(uuid.NewV7()),
		Action:     audit.ActionGrantStarted,
		OccurredAt: time.Now().UTC(),
		ActorID:    uuid.Must(uuid.NewV4()),
		SubjectID:  uuid.Must(uuid.NewV4()),
		Detail:     map[string]string{"grant_type": "read_session"},
	}
	require.NoError(t, store.Append(ctx, ev))

	var action, detail string
	var resource *uuid.UUID
	err := db.Pool.QueryRow(ctx,
		`SELECT action, detail::text, resource_id FROM audit_events WHERE id = $1`, ev.ID,
	).Scan(&action, &detail, &resource)
	require.NoError(t, err)
	require.Equal(t, string(audit.ActionGrantStarted), action)
	require.JSONEq(t, `{"grant_type":"read_session"}`, detail)
	require.Nil(t, resource)
}
