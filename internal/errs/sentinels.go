// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrWrongShape indicates a relation operation called on an incompatible relation shape.
	ErrWrongShape = errors.New("wrong relation shape")

	// ErrShapeViolation indicates a relation constructed with data its shape forbids.
	ErrShapeViolation = errors.New("relation shape violation")

	// ErrIntegrityViolation indicates a delete blocked by a restricting relation.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrMalformedSnapshot indicates a persisted document that cannot be loaded.
	ErrMalformedSnapshot = errors.New("malformed snapshot")

	// ErrAlreadyExists indicates a duplicate identity, registration or taken slot.
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict indicates optimistic concurrency failure (snapshot version moved).
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidArgument indicates a request the service cannot act on as given.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")
)
