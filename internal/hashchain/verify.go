package hashchain

import (
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/epoch-ledger/internal/model"
)

// Verify walks records (one user's chain, oldest first) forward from the first
// record and reports the first record whose hash, linkage or ordering does not hold.
func Verify(userID uuid.UUID, records []model.EpochRecord) model.ChainReport {
	rep := model.ChainReport{UserID: userID, Valid: true}
	var prev *model.EpochRecord
	for i := range records {
		r := records[i]
		if reason := check(userID, prev, r); reason != "" {
			id := r.ID
			rep.Valid = false
			rep.BrokenAt = &id
			rep.Reason = reason
			return rep
		}
		rep.Checked++
		prev = &records[i]
	}
	return rep
}

func check(userID uuid.UUID, prev *model.EpochRecord, r model.EpochRecord) string {
	if r.UserID != userID {
		return "record belongs to another user"
	}
	switch {
	case prev == nil && r.PrevHash != nil:
		return "first record has a prev hash"
	case prev != nil && r.PrevHash == nil:
		return "missing prev hash"
	case prev != nil && *r.PrevHash != prev.RecordHash:
		return "prev hash does not match previous record"
	case prev != nil && !r.RecordedAt.After(prev.RecordedAt):
		return "recorded_at not strictly increasing"
	}
	got, err := HashRecord(r)
	if err != nil {
		return "payload cannot be canonicalized: " + err.Error()
	}
	if got != r.RecordHash {
		return "record hash mismatch"
	}
	return ""
}
