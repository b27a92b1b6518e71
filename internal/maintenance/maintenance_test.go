package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/squadcal/internal/limiter"
)

func TestNew_ValidatesCron(t *testing.T) {
	_, err := New("every tuesday", nil)
	require.Error(t, err)

	s, err := New("", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Equal(t, DefaultCron, s.cron)
}

func TestNext(t *testing.T) {
	s, err := New("0 2 * * *", nil)
	require.NoError(t, err)

	next, err := s.Next(time.Date(2026, 10, 15, 1, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC), next)

	next, err = s.Next(time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 10, 16, 2, 0, 0, 0, time.UTC), next)
}

func TestRunOnce_ContinuesAfterFailure(t *testing.T) {
	var ran []string
	s, err := New("", zaptest.NewLogger(t),
		Job{Name: "a", Run: func(context.Context) error { ran = append(ran, "a"); return errors.New("boom") }},
		Job{Name: "b", Run: func(context.Context) error { ran = append(ran, "b"); return nil }},
	)
	require.NoError(t, err)

	err = s.RunOnce(context.Background())
	require.ErrorContains(t, err, "a: boom")
	require.Equal(t, []string{"a", "b"}, ran)
}

func TestRun_TicksUntilCanceled(t *testing.T) {
	var n atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s, err := New("* * * * *", zaptest.NewLogger(t), Job{Name: "count", Run: func(context.Context) error {
		if n.Add(1) == 2 {
			cancel()
		}
		return nil
	}})
	require.NoError(t, err)

	ticks := make(chan time.Time, 2)
	ticks <- time.Time{}
	ticks <- time.Time{}
	s.after = func(time.Duration) <-chan time.Time { return ticks }

	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.Equal(t, int32(2), n.Load())
}

func TestLimiterJobs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`DELETE FROM login_attempts`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	pool := limiter.NewRatePool(limiter.RateConfig{})
	pool.Allow("user:a")

	jobs := LimiterJobs(limiter.NewLockout(mock, limiter.LoginConfig{}), pool, 24*time.Hour, 0, zaptest.NewLogger(t))
	require.Len(t, jobs, 2)

	s, err := New("", nil, jobs...)
	require.NoError(t, err)
	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 0, pool.Len())
	require.NoError(t, mock.ExpectationsWereMet())

	require.Empty(t, LimiterJobs(nil, nil, 0, 0, nil))
}
