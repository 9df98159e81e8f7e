// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrValidation indicates malformed input (unknown record type, missing payload, bad attachment, bad grant type).
	ErrValidation = errors.New("validation")

	// ErrNotFound indicates the requested entity does not exist or is not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an active grant already exists for the pair, or a chain fork was rejected.
	ErrConflict = errors.New("conflict")

	// ErrSelfReference indicates the viewer and the target are the same user.
	ErrSelfReference = errors.New("self reference")

	// ErrNotEntitled indicates the entitlement service reports the viewer as inactive.
	ErrNotEntitled = errors.New("not entitled")

	// ErrNoActiveGrant indicates a cross-user read without an active read grant.
	ErrNoActiveGrant = errors.New("no active read grant")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")
)
