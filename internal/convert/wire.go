// Package convert maps domain values to and from the wire messages of the
// EpochLedger gRPC service. Every message is a google.protobuf.Struct.
package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/epoch-ledger/internal/errs"
	"github.com/and161185/epoch-ledger/internal/hashchain"
	model "github.com/and161185/epoch-ledger/internal/model"
)

// --- request helpers ---

// String returns the string field name, or "" when absent or not a string.
func String(s *structpb.Struct, name string) string {
	v := s.GetFields()[name]
	if v == nil {
		return ""
	}
	return v.GetStringValue()
}

// Bool returns the bool field name, false when absent.
func Bool(s *structpb.Struct, name string) bool {
	v := s.GetFields()[name]
	if v == nil {
		return false
	}
	return v.GetBoolValue()
}

// UUID parses a required uuid field.
func UUID(s *structpb.Struct, name string) (u.UUID, error) {
	raw := String(s, name)
	if raw == "" {
		return u.Nil, fmt.Errorf("%s is required: %w", name, errs.ErrValidation)
	}
	id, err := u.FromString(raw)
	if err != nil {
		return u.Nil, fmt.Errorf("invalid %s: %w", name, errs.ErrValidation)
	}
	return id, nil
}

// OptionalUUID parses a uuid field that may be absent.
func OptionalUUID(s *structpb.Struct, name string) (*u.UUID, error) {
	if String(s, name) == "" {
		return nil, nil
	}
	id, err := UUID(s, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// payloadJSON accepts either a structured value or a JSON document in a string.
func payloadJSON(v *structpb.Value) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if _, ok := v.GetKind().(*structpb.Value_NullValue); ok {
		return json.RawMessage("null"), nil
	}
	if sv, ok := v.GetKind().(*structpb.Value_StringValue); ok {
		return json.RawMessage(sv.StringValue), nil
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("payload: %v: %w", err, errs.ErrValidation)
	}
	return json.RawMessage(b), nil
}

// --- requests (client -> server) ---

// FromAppendRequest builds a draft for userID from an AppendRecord request.
func FromAppendRequest(userID u.UUID, in *structpb.Struct) (model.RecordDraft, error) {
	if in == nil {
		return model.RecordDraft{}, fmt.Errorf("nil request: %w", errs.ErrValidation)
	}
	payload, err := payloadJSON(in.GetFields()["payload"])
	if err != nil {
		return model.RecordDraft{}, err
	}
	d := model.RecordDraft{
		UserID:     userID,
		RecordType: model.RecordType(String(in, "record_type")),
		Payload:    payload,
		Visibility: String(in, "visibility"),
	}
	for i, v := range in.GetFields()["attachments"].GetListValue().GetValues() {
		a := v.GetStructValue()
		if a == nil {
			return model.RecordDraft{}, fmt.Errorf("attachment[%d] must be an object: %w", i, errs.ErrValidation)
		}
		d.Attachments = append(d.Attachments, model.Attachment{
			AttachmentHash: String(a, "attachment_hash"),
			StoragePointer: String(a, "storage_pointer"),
		})
	}
	return d, nil
}

// FromCrossReadRequest builds a cross read for viewerID from a ReadTargetRecords request.
func FromCrossReadRequest(viewerID u.UUID, in *structpb.Struct) (model.CrossRead, error) {
	target, err := UUID(in, "target_user_id")
	if err != nil {
		return model.CrossRead{}, err
	}
	grantID, err := OptionalUUID(in, "grant_id")
	if err != nil {
		return model.CrossRead{}, err
	}
	return model.CrossRead{
		ViewerID:            viewerID,
		TargetUserID:        target,
		GrantID:             grantID,
		IncludeScoutVisible: Bool(in, "include_scout_visible"),
	}, nil
}

// --- responses (server -> client) ---

func ts(t time.Time) string { return hashchain.FormatTimestamp(t) }

func optTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

func recordMap(r model.EpochRecord) (map[string]any, error) {
	var payload any
	dec := json.NewDecoder(bytes.NewReader(r.Payload))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("record %s payload: %w", r.ID, err)
	}
	var prev any
	if r.PrevHash != nil {
		prev = *r.PrevHash
	}
	atts := make([]any, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		atts = append(atts, map[string]any{
			"attachment_hash": a.AttachmentHash,
			"storage_pointer": a.StoragePointer,
		})
	}
	return map[string]any{
		"id":                r.ID.String(),
		"user_id":           r.UserID.String(),
		"recorded_at":       ts(r.RecordedAt),
		"record_type":       string(r.RecordType),
		"payload":           payload,
		"payload_canonical": string(r.Payload),
		"prev_hash":         prev,
		"record_hash":       r.RecordHash,
		"visibility":        string(r.Visibility),
		"attachments":       atts,
	}, nil
}

func recordList(rs []model.EpochRecord) ([]any, error) {
	out := make([]any, 0, len(rs))
	for _, r := range rs {
		m, err := recordMap(r)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func grantMap(g *model.ReadGrant) any {
	if g == nil {
		return nil
	}
	return map[string]any{
		"id":             g.ID.String(),
		"viewer_id":      g.ViewerID.String(),
		"target_user_id": g.TargetUserID.String(),
		"type":           string(g.Type),
		"created_at":     ts(g.CreatedAt),
		"window_start":   optTS(g.WindowStart),
		"window_end":     optTS(g.WindowEnd),
		"starts_at":      optTS(g.StartsAt),
		"ends_at":        optTS(g.EndsAt),
		"ended_at":       optTS(g.EndedAt),
	}
}

// ToRecordResponse wraps one record as {"record": {...}}.
func ToRecordResponse(r model.EpochRecord) (*structpb.Struct, error) {
	m, err := recordMap(r)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"record": m})
}

// ToRecordsResponse wraps records as {"records": [...]}.
func ToRecordsResponse(rs []model.EpochRecord) (*structpb.Struct, error) {
	list, err := recordList(rs)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"records": list})
}

// ToReportResponse wraps a chain report as {"report": {...}}.
func ToReportResponse(rep model.ChainReport) (*structpb.Struct, error) {
	var broken any
	if rep.BrokenAt != nil {
		broken = rep.BrokenAt.String()
	}
	return structpb.NewStruct(map[string]any{"report": map[string]any{
		"user_id":   rep.UserID.String(),
		"checked":   rep.Checked,
		"valid":     rep.Valid,
		"broken_at": broken,
		"reason":    rep.Reason,
	}})
}

// ToGrantResponse wraps a grant (possibly nil) as {"grant": {...}|null}.
func ToGrantResponse(g *model.ReadGrant) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"grant": grantMap(g)})
}

// ToEndGrantResponse reports whether anything was ended alongside the grant.
func ToEndGrantResponse(g *model.ReadGrant) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"ended": g != nil, "grant": grantMap(g)})
}

// ToCrossReadResponse wraps the grant used and the records it exposed.
func ToCrossReadResponse(res model.CrossReadResult) (*structpb.Struct, error) {
	list, err := recordList(res.Records)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"grant": grantMap(&res.Grant), "records": list})
}
