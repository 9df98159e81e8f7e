// Package model defines domain entities used by services and repositories.
package model

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
)

// RecordType classifies a fact in a user's ledger.
type RecordType string

const (
	RecordDecisionMade      RecordType = "decision_made"
	RecordDecisionNotMade   RecordType = "decision_not_made"
	RecordInvited           RecordType = "invited"
	RecordDeclined          RecordType = "declined"
	RecordRevised           RecordType = "revised"
	RecordPeriodOfSilence   RecordType = "period_of_silence"
	RecordAuthRecovered     RecordType = "auth_recovered"
	RecordVisibilityChanged RecordType = "visibility_changed"
)

var recordTypes = map[RecordType]struct{}{
	RecordDecisionMade:      {},
	RecordDecisionNotMade:   {},
	RecordInvited:           {},
	RecordDeclined:          {},
	RecordRevised:           {},
	RecordPeriodOfSilence:   {},
	RecordAuthRecovered:     {},
	RecordVisibilityChanged: {},
}

// ParseRecordType returns the record type and whether it belongs to the fixed enum.
func ParseRecordType(s string) (RecordType, bool) {
	t := RecordType(s)
	_, ok := recordTypes[t]
	return t, ok
}

// Visibility is the audience tier of a record.
type Visibility string

const (
	VisibilityPrivate      Visibility = "private"
	VisibilityScoutVisible Visibility = "scout_visible"
	VisibilityPublic       Visibility = "public"
)

// ParseVisibility reports whether s is one of the three allowed values.
func ParseVisibility(s string) (Visibility, bool) {
	switch v := Visibility(s); v {
	case VisibilityPrivate, VisibilityScoutVisible, VisibilityPublic:
		return v, true
	default:
		return "", false
	}
}

// NormalizeVisibility maps anything unrecognized to private.
func NormalizeVisibility(s string) Visibility {
	if v, ok := ParseVisibility(s); ok {
		return v
	}
	return VisibilityPrivate
}

// VisibleTo reports whether a record with this effective visibility is served
// on the cross-user path. Private is never served.
func (v Visibility) VisibleTo(includeScoutVisible bool) bool {
	switch v {
	case VisibilityPublic:
		return true
	case VisibilityScoutVisible:
		return includeScoutVisible
	default:
		return false
	}
}

// Attachment references externally stored bytes by hash and opaque pointer.
type Attachment struct {
	AttachmentHash string
	StoragePointer string
}

// EpochRecord is one immutable entry of a user's hash-chained ledger.
type EpochRecord struct {
	ID          uuid.UUID       // UUIDv7, creation-ordered
	UserID      uuid.UUID       // chain owner
	RecordedAt  time.Time       // strictly increasing per user, ms precision
	RecordType  RecordType
	Payload     json.RawMessage // JSON object or array, opaque to the ledger
	PrevHash    *string         // nil for the first record of a user
	RecordHash  string          // SHA-256 hex
	Visibility  Visibility      // nominal or, after overlay, effective visibility
	Attachments []Attachment    // ordered as supplied
}

// AttachmentHashes returns attachment hashes in order.
func (r EpochRecord) AttachmentHashes() []string {
	out := make([]string, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		out = append(out, a.AttachmentHash)
	}
	return out
}

// RecordDraft is an append intent before ordering and hashing.
type RecordDraft struct {
	UserID      uuid.UUID
	RecordType  RecordType
	Payload     json.RawMessage
	Visibility  string // normalized by the writer
	Attachments []Attachment
}

// ChainTail describes the locked latest record of a user's chain.
type ChainTail struct {
	RecordID   uuid.UUID
	RecordedAt time.Time
	RecordHash string
}

// VisibilityChange is the payload of a visibility_changed record.
type VisibilityChange struct {
	TargetRecordID string `json:"target_record_id"`
	Visibility     string `json:"visibility"`
}

// ChainReport is the outcome of re-walking a user's chain.
type ChainReport struct {
	UserID   uuid.UUID
	Checked  int
	Valid    bool
	BrokenAt *uuid.UUID // first record failing verification
	Reason   string
}
