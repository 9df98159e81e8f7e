package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// GrantType selects how a read grant bounds access.
type GrantType string

const (
	// GrantTimeWindow exposes a fixed historical slice and stays active until ended.
	GrantTimeWindow GrantType = "time_window"
	// GrantReadSession expires on its own at EndsAt.
	GrantReadSession GrantType = "read_session"
)

// Grant durations.
const (
	TimeWindowSpan  = 90 * 24 * time.Hour
	ReadSessionSpan = 60 * time.Minute
)

// ParseGrantType reports whether s is a known grant type.
func ParseGrantType(s string) (GrantType, bool) {
	switch t := GrantType(s); t {
	case GrantTimeWindow, GrantReadSession:
		return t, true
	default:
		return "", false
	}
}

// ReadGrant permits ViewerID to read TargetUserID's visible records.
type ReadGrant struct {
	ID           uuid.UUID
	ViewerID     uuid.UUID
	TargetUserID uuid.UUID
	Type         GrantType
	CreatedAt    time.Time
	WindowStart  *time.Time // time_window only
	WindowEnd    *time.Time // time_window only
	StartsAt     *time.Time // read_session only
	EndsAt       *time.Time // read_session only
	EndedAt      *time.Time
}

// IsActive reports whether the grant may be used at now.
// Ended grants are never active; read sessions lapse after EndsAt;
// time windows stay active until explicitly ended.
func (g ReadGrant) IsActive(now time.Time) bool {
	if g.EndedAt != nil {
		return false
	}
	switch g.Type {
	case GrantReadSession:
		return g.EndsAt != nil && !now.After(*g.EndsAt)
	case GrantTimeWindow:
		return true
	default:
		return false
	}
}

// InWindow reports whether t falls inside the grant's fixed window, inclusive.
// Grants other than time_window do not restrict by recording time.
func (g ReadGrant) InWindow(t time.Time) bool {
	if g.Type != GrantTimeWindow {
		return true
	}
	if g.WindowStart == nil || g.WindowEnd == nil {
		return false
	}
	return !t.Before(*g.WindowStart) && !t.After(*g.WindowEnd)
}

// CrossRead is a request to read another user's visible history.
type CrossRead struct {
	ViewerID            uuid.UUID
	TargetUserID        uuid.UUID
	GrantID             *uuid.UUID // resolve by pair when nil
	IncludeScoutVisible bool
}

// CrossReadResult carries the grant used and the records it exposed.
type CrossReadResult struct {
	Grant   ReadGrant
	Records []EpochRecord
}
