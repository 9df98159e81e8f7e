// Package overlay projects effective record visibility from the append-only
// stream of visibility_changed records. Nothing here is persisted and stored
// rows are never modified.
package overlay

import (
	"encoding/json"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/epoch-ledger/internal/model"
)

type override struct {
	at         model.EpochRecord
	visibility model.Visibility
}

// later reports whether a orders after b by (recorded_at, id).
func later(a, b model.EpochRecord) bool {
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.After(b.RecordedAt)
	}
	return uuidLess(b.ID, a.ID)
}

func uuidLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Resolve maps target record ids to the latest requested visibility.
// Input order does not matter; change records with malformed payloads are skipped.
func Resolve(records []model.EpochRecord) map[uuid.UUID]model.Visibility {
	latest := make(map[uuid.UUID]override)
	for _, r := range records {
		if r.RecordType != model.RecordVisibilityChanged {
			continue
		}
		var ch model.VisibilityChange
		if err := json.Unmarshal(r.Payload, &ch); err != nil {
			continue
		}
		target, err := uuid.FromString(ch.TargetRecordID)
		if err != nil {
			continue
		}
		vis, ok := model.ParseVisibility(ch.Visibility)
		if !ok {
			continue
		}
		if cur, seen := latest[target]; seen && !later(r, cur.at) {
			continue
		}
		latest[target] = override{at: r, visibility: vis}
	}

	out := make(map[uuid.UUID]model.Visibility, len(latest))
	for id, o := range latest {
		out[id] = o.visibility
	}
	return out
}

// Apply returns a copy of records with each visibility replaced by its override, if any.
func Apply(records []model.EpochRecord) []model.EpochRecord {
	overrides := Resolve(records)
	out := make([]model.EpochRecord, len(records))
	for i, r := range records {
		if v, ok := overrides[r.ID]; ok {
			r.Visibility = v
		}
		out[i] = r
	}
	return out
}

// FilterVisible keeps public records, plus scout_visible ones when includeScoutVisible is set.
// records must already carry effective visibility.
func FilterVisible(records []model.EpochRecord, includeScoutVisible bool) []model.EpochRecord {
	out := make([]model.EpochRecord, 0, len(records))
	for _, r := range records {
		if r.Visibility.VisibleTo(includeScoutVisible) {
			out = append(out, r)
		}
	}
	return out
}
