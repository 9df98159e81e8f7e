package overlay

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/epoch-ledger/internal/model"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func rec(at time.Duration, typ model.RecordType, vis model.Visibility, payload string) model.EpochRecord {
	return model.EpochRecord{
		ID:         uuid.Must(uuid.NewV7()),
		RecordedAt: t0.Add(at),
		RecordType: typ,
		Visibility: vis,
		Payload:    json.RawMessage(payload),
	}
}

func change(at time.Duration, target uuid.UUID, vis string) model.EpochRecord {
	b, _ := json.Marshal(model.VisibilityChange{TargetRecordID: target.String(), Visibility: vis})
	return rec(at, model.RecordVisibilityChanged, model.VisibilityPrivate, string(b))
}

func TestApply_LatestOverrideWins(t *testing.T) {
	t.Parallel()
	r1 := rec(0, model.RecordDecisionMade, model.VisibilityPrivate, `{}`)
	c1 := change(time.Millisecond, r1.ID, "public")
	c2 := change(2*time.Millisecond, r1.ID, "scout_visible")

	out := Apply([]model.EpochRecord{r1, c1, c2})
	require.Equal(t, model.VisibilityScoutVisible, out[0].Visibility)
	require.Equal(t, model.VisibilityPrivate, out[1].Visibility, "change records stay private")
	require.Equal(t, model.VisibilityPrivate, out[2].Visibility)

	// Input order does not decide; (recorded_at, id) does.
	out = Apply([]model.EpochRecord{c2, r1, c1})
	require.Equal(t, model.VisibilityScoutVisible, out[1].Visibility)
}

func TestApply_TieOnTimeBrokenByID(t *testing.T) {
	t.Parallel()
	r1 := rec(0, model.RecordDecisionMade, model.VisibilityPrivate, `{}`)
	a := change(time.Millisecond, r1.ID, "public")
	b := change(time.Millisecond, r1.ID, "scout_visible")
	want := model.VisibilityScoutVisible
	if uuidLess(b.ID, a.ID) {
		want = model.VisibilityPublic
	}

	require.Equal(t, want, Apply([]model.EpochRecord{r1, b, a})[0].Visibility)
	require.Equal(t, want, Apply([]model.EpochRecord{r1, a, b})[0].Visibility)
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	r1 := rec(0, model.RecordInvited, model.VisibilityPrivate, `{}`)
	in := []model.EpochRecord{r1, change(time.Millisecond, r1.ID, "public")}

	out := Apply(in)
	require.Equal(t, model.VisibilityPublic, out[0].Visibility)
	require.Equal(t, model.VisibilityPrivate, in[0].Visibility)
}

func TestResolve_SkipsMalformed(t *testing.T) {
	t.Parallel()
	r1 := rec(0, model.RecordDeclined, model.VisibilityPublic, `{}`)
	records := []model.EpochRecord{
		r1,
		rec(time.Millisecond, model.RecordVisibilityChanged, model.VisibilityPrivate, `not json`),
		rec(2*time.Millisecond, model.RecordVisibilityChanged, model.VisibilityPrivate, `{"target_record_id":"nope","visibility":"private"}`),
		change(3*time.Millisecond, r1.ID, "everyone"),
	}
	require.Empty(t, Resolve(records))
	require.Equal(t, model.VisibilityPublic, Apply(records)[0].Visibility)
}

func TestResolve_UnknownTargetIgnoredByApply(t *testing.T) {
	t.Parallel()
	ghost := uuid.Must(uuid.NewV7())
	r1 := rec(0, model.RecordRevised, model.VisibilityPrivate, `{}`)
	records := []model.EpochRecord{r1, change(time.Millisecond, ghost, "public")}

	require.Equal(t, map[uuid.UUID]model.Visibility{ghost: model.VisibilityPublic}, Resolve(records))
	require.Equal(t, model.VisibilityPrivate, Apply(records)[0].Visibility)
}

func TestFilterVisible(t *testing.T) {
	t.Parallel()
	priv := rec(0, model.RecordDecisionMade, model.VisibilityPrivate, `{}`)
	scout := rec(1, model.RecordDecisionMade, model.VisibilityScoutVisible, `{}`)
	pub := rec(2, model.RecordDecisionMade, model.VisibilityPublic, `{}`)
	all := []model.EpochRecord{priv, scout, pub}

	got := FilterVisible(all, false)
	require.Len(t, got, 1)
	require.Equal(t, pub.ID, got[0].ID)

	got = FilterVisible(all, true)
	require.Len(t, got, 2)
	require.Equal(t, scout.ID, got[0].ID)
	require.Equal(t, pub.ID, got[1].ID)
}
