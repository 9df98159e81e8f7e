package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/epoch-ledger/internal/audit"
	"github.com/and161185/epoch-ledger/internal/errs"
	"github.com/and161185/epoch-ledger/internal/model"
	"github.com/and161185/epoch-ledger/internal/repository"
)

// memRecords serializes appends per repository, which is enough to stand in
// for the per-user chain lock in unit tests.
type memRecords struct {
	mu      sync.Mutex
	rows    []model.EpochRecord
	tails   []*model.ChainTail // tail handed to each build call
	appErr  error
	getErr  error
	listErr error
}

var _ repository.RecordRepository = (*memRecords)(nil)

func (m *memRecords) AppendChained(_ context.Context, userID uuid.UUID, build repository.BuildFunc) (*model.EpochRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appErr != nil {
		return nil, m.appErr
	}

	var tail *model.ChainTail
	for _, r := range m.rows {
		if r.UserID != userID {
			continue
		}
		if tail == nil || r.RecordedAt.After(tail.RecordedAt) {
			tail = &model.ChainTail{RecordID: r.ID, RecordedAt: r.RecordedAt, RecordHash: r.RecordHash}
		}
	}
	m.tails = append(m.tails, tail)

	rec, err := build(tail)
	if err != nil {
		return nil, err
	}
	for _, r := range m.rows {
		if r.UserID == userID && eqPtr(r.PrevHash, rec.PrevHash) {
			return nil, errs.ErrConflict
		}
	}
	m.rows = append(m.rows, *rec)
	return rec, nil
}

func eqPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *memRecords) ListByUser(_ context.Context, userID uuid.UUID) ([]model.EpochRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []model.EpochRecord{}
	for _, r := range m.rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *memRecords) GetByID(_ context.Context, recordID uuid.UUID) (*model.EpochRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, r := range m.rows {
		if r.ID == recordID {
			c := r
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

type memGrants struct {
	mu      sync.Mutex
	rows    []model.ReadGrant
	err     error
	creates int
}

var _ repository.GrantRepository = (*memGrants)(nil)

func (m *memGrants) CreateIfNoneActive(_ context.Context, g *model.ReadGrant, active repository.ActiveFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.err != nil {
		return m.err
	}
	for _, o := range m.rows {
		if o.ViewerID == g.ViewerID && o.TargetUserID == g.TargetUserID && o.EndedAt == nil && active(o) {
			return errs.ErrConflict
		}
	}
	m.rows = append(m.rows, *g)
	return nil
}

func (m *memGrants) End(_ context.Context, viewerID, grantID uuid.UUID, endedAt time.Time) (*model.ReadGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.rows {
		g := &m.rows[i]
		if g.ID == grantID && g.ViewerID == viewerID && g.EndedAt == nil {
			at := endedAt
			g.EndedAt = &at
			c := *g
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memGrants) ListOpen(_ context.Context, viewerID, targetUserID uuid.UUID) ([]model.ReadGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []model.ReadGrant
	for _, g := range m.rows {
		if g.ViewerID == viewerID && g.TargetUserID == targetUserID && g.EndedAt == nil {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memGrants) GetByID(_ context.Context, grantID uuid.UUID) (*model.ReadGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, g := range m.rows {
		if g.ID == grantID {
			c := g
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

// recordingSink keeps emitted audit events.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Emit(_ context.Context, ev audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) actions() []audit.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Action, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Action)
	}
	return out
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
