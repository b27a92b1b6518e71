// Package limiter implements login lockout and per-viewer request rate limiting.
package limiter

import (
	"context"
	"time"
)

// Limiter gates password attempts per (username, client address).
type Limiter interface {
	// Allow reports whether an attempt may proceed and, if not, how long the lock lasts.
	Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
	// Success clears the failure streak.
	Success(ctx context.Context, username string, ipHash []byte) error
	// Failure counts a failed attempt and reports whether it locked the pair.
	Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error)
}
