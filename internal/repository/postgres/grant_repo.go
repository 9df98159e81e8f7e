package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/epoch-ledger/internal/errs"
	"github.com/and161185/epoch-ledger/internal/model"
	"github.com/and161185/epoch-ledger/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// GrantRepo implements GrantRepository using PostgreSQL.
type GrantRepo struct{ db *DB }

// NewGrantRepo constructs a grant repository.
func NewGrantRepo(db *DB) *GrantRepo { return &GrantRepo{db: db} }

const (
	grantColumns = `id, viewer_id, target_user_id, grant_type, created_at, window_start, window_end, starts_at, ends_at, ended_at`

	// Namespace 2 of the two-key advisory lock space: one key per (viewer, target) pair.
	lockPairSQL = `SELECT pg_advisory_xact_lock(2, hashtext($1::text || ':' || $2::text))`

	selectOpenSQL = `
SELECT ` + grantColumns + `
FROM read_grants
WHERE viewer_id=$1 AND target_user_id=$2 AND ended_at IS NULL
ORDER BY created_at DESC`

	insertGrantSQL = `
INSERT INTO read_grants (` + grantColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
)

// CreateIfNoneActive checks for an active grant and inserts g under one
// per-pair lock, so two concurrent starts for the same pair cannot both win.
func (r *GrantRepo) CreateIfNoneActive(ctx context.Context, g *model.ReadGrant, active repository.ActiveFunc) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if _, err = tx.Exec(ctx, lockPairSQL, g.ViewerID, g.TargetUserID); err != nil {
		return fmt.Errorf("lock grant pair: %w", err)
	}

	open, err := listGrants(ctx, tx, selectOpenSQL, g.ViewerID, g.TargetUserID)
	if err != nil {
		return err
	}
	for _, o := range open {
		if active(o) {
			return fmt.Errorf("grant %s still active: %w", o.ID, errs.ErrConflict)
		}
	}

	if _, err = tx.Exec(ctx, insertGrantSQL,
		g.ID, g.ViewerID, g.TargetUserID, string(g.Type), g.CreatedAt,
		g.WindowStart, g.WindowEnd, g.StartsAt, g.EndsAt, g.EndedAt,
	); err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// End marks a grant as ended if it belongs to viewerID and is still open.
// A missing, foreign or already ended grant yields (nil, nil).
func (r *GrantRepo) End(ctx context.Context, viewerID, grantID uuid.UUID, endedAt time.Time) (*model.ReadGrant, error) {
	const q = `
UPDATE read_grants SET ended_at=$3
WHERE id=$1 AND viewer_id=$2 AND ended_at IS NULL
RETURNING ` + grantColumns
	g, err := scanGrant(r.db.Pool.QueryRow(ctx, q, grantID, viewerID, endedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return g, nil
}

// ListOpen returns non-ended grants for the pair, newest first.
func (r *GrantRepo) ListOpen(ctx context.Context, viewerID, targetUserID uuid.UUID) ([]model.ReadGrant, error) {
	return listGrants(ctx, r.db.Pool, selectOpenSQL, viewerID, targetUserID)
}

// GetByID returns a grant by id.
func (r *GrantRepo) GetByID(ctx context.Context, grantID uuid.UUID) (*model.ReadGrant, error) {
	const q = `SELECT ` + grantColumns + ` FROM read_grants WHERE id=$1`
	g, err := scanGrant(r.db.Pool.QueryRow(ctx, q, grantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

func listGrants(ctx context.Context, q querier, sql string, args ...any) ([]model.ReadGrant, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ReadGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func scanGrant(row pgx.Row) (*model.ReadGrant, error) {
	var (
		g         model.ReadGrant
		grantType string
	)
	if err := row.Scan(
		&g.ID, &g.ViewerID, &g.TargetUserID, &grantType, &g.CreatedAt,
		&g.WindowStart, &g.WindowEnd, &g.StartsAt, &g.EndsAt, &g.EndedAt,
	); err != nil {
		return nil, err
	}
	g.Type = model.GrantType(grantType)
	return &g, nil
}
