// Package hashchain computes and verifies the content hashes that link a user's
// epoch records into a tamper-evident chain.
//
// The hash input is the pipe-joined concatenation of
//
//	record id | user id | recorded_at | record type | canonical payload | prev hash | attachment hashes...
//
// where recorded_at is ISO-8601 UTC with millisecond precision, the payload is
// RFC 8785 canonical JSON, a missing prev hash is the empty string and
// attachment hashes keep the order they were supplied in. The digest is
// lowercase SHA-256 hex. Chains written by other implementations verify here
// only if every step is byte-identical, so none of it may change.
package hashchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/and161185/epoch-ledger/internal/model"
)

// TimestampLayout renders recorded_at for hashing.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

const sep = "|"

var jsonNull = []byte("null")

// Input lists everything a record hash depends on.
type Input struct {
	RecordID         string
	UserID           string
	RecordedAt       time.Time
	RecordType       string
	Payload          []byte
	PrevHash         *string
	AttachmentHashes []string
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Canonicalize returns the canonical JSON form of payload.
// An empty or null payload canonicalizes to "null".
func Canonicalize(payload []byte) (string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull) {
		return string(jsonNull), nil
	}
	out, err := jcs.Transform(trimmed)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	return string(out), nil
}

// ComputeRecordHash returns the SHA-256 hex digest of the chain hash input.
func ComputeRecordHash(in Input) (string, error) {
	canonical, err := Canonicalize(in.Payload)
	if err != nil {
		return "", err
	}
	prev := ""
	if in.PrevHash != nil {
		prev = *in.PrevHash
	}
	parts := []string{
		in.RecordID,
		in.UserID,
		FormatTimestamp(in.RecordedAt),
		in.RecordType,
		canonical,
		prev,
		strings.Join(in.AttachmentHashes, sep),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, sep)))
	return hex.EncodeToString(sum[:]), nil
}

// InputFor builds the hash input of a stored record.
func InputFor(r model.EpochRecord) Input {
	return Input{
		RecordID:         r.ID.String(),
		UserID:           r.UserID.String(),
		RecordedAt:       r.RecordedAt,
		RecordType:       string(r.RecordType),
		Payload:          r.Payload,
		PrevHash:         r.PrevHash,
		AttachmentHashes: r.AttachmentHashes(),
	}
}

// HashRecord recomputes the hash of r from its stated inputs.
func HashRecord(r model.EpochRecord) (string, error) {
	return ComputeRecordHash(InputFor(r))
}
