// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied indicates the viewer lacks a capability on an entity it can see.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidParameters indicates malformed or out-of-range input.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrConcurrentModification indicates a mutation was based on stale content.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrHierarchyCycle indicates the thread parent graph contains a cycle.
	ErrHierarchyCycle = errors.New("thread hierarchy cycle")
)

// ConcurrentModificationError carries the server's current text so the
// client can present it next to its own version.
type ConcurrentModificationError struct {
	ServerText string
}

func (e *ConcurrentModificationError) Error() string { return ErrConcurrentModification.Error() }

// Is makes errors.Is(err, ErrConcurrentModification) hold.
func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}
