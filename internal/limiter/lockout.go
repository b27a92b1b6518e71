package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of a pgx pool the lockout needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LoginConfig sets the failure streak policy: MaxFails failures, each
// within Window of the previous one, lock the pair for BlockFor.
type LoginConfig struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// Lockout is the PostgreSQL-backed Limiter. State lives in login_attempts
// so every server instance sees the same streaks.
type Lockout struct {
	q   Querier
	cfg LoginConfig
	now func() time.Time
}

// NewLockout returns a Lockout; zero settings fall back to 5 failures per 15 minutes.
func NewLockout(q Querier, cfg LoginConfig) *Lockout {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.MaxFails <= 0 {
		cfg.MaxFails = 5
	}
	if cfg.BlockFor <= 0 {
		cfg.BlockFor = 15 * time.Minute
	}
	return &Lockout{q: q, cfg: cfg, now: time.Now}
}

// HashIP keys attempts by a digest of the peer address instead of the raw address.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// Allow implements Limiter.
func (l *Lockout) Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT locked_until FROM login_attempts WHERE username=$1 AND ip_hash=$2`
	var until time.Time
	err := l.q.QueryRow(ctx, q, username, ipHash).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if left := until.Sub(l.now()); left > 0 {
		return false, left, nil
	}
	return true, 0, nil
}

// Success implements Limiter.
func (l *Lockout) Success(ctx context.Context, username string, ipHash []byte) error {
	const q = `DELETE FROM login_attempts WHERE username=$1 AND ip_hash=$2`
	_, err := l.q.Exec(ctx, q, username, ipHash)
	return err
}

// Failure implements Limiter. The streak restarts when the previous failure
// is older than Window; reaching MaxFails sets the lock in the same statement.
func (l *Lockout) Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO login_attempts AS a (username, ip_hash, failures, last_attempt, locked_until)
VALUES ($1, $2, 1, $3, CASE WHEN $5 <= 1 THEN $6 ELSE 'epoch'::timestamptz END)
ON CONFLICT (username, ip_hash) DO UPDATE SET
  failures = CASE WHEN a.last_attempt < $3 - $4::interval THEN 1 ELSE a.failures + 1 END,
  last_attempt = $3,
  locked_until = CASE
    WHEN (CASE WHEN a.last_attempt < $3 - $4::interval THEN 1 ELSE a.failures + 1 END) >= $5 THEN $6
    ELSE a.locked_until END
RETURNING locked_until`
	now := l.now()
	var until time.Time
	err := l.q.QueryRow(ctx, q, username, ipHash, now, l.cfg.Window, l.cfg.MaxFails, now.Add(l.cfg.BlockFor)).Scan(&until)
	if err != nil {
		return false, 0, err
	}
	if left := until.Sub(now); left > 0 {
		return true, left, nil
	}
	return false, 0, nil
}

// Prune deletes unlocked rows whose last failure is older than olderThan.
func (l *Lockout) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `DELETE FROM login_attempts WHERE locked_until < $1 AND last_attempt < $2`
	now := l.now()
	tag, err := l.q.Exec(ctx, q, now, now.Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
