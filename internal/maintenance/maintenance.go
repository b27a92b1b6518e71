// Package maintenance runs periodic housekeeping on a cron schedule.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/and161185/squadcal/internal/limiter"
)

// DefaultCron runs housekeeping every 15 minutes.
const DefaultCron = "*/15 * * * *"

// Job is one named housekeeping task.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs every job sequentially at each cron tick.
type Scheduler struct {
	cron  string
	jobs  []Job
	log   *zap.Logger
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New validates cron (empty means DefaultCron).
func New(cron string, log *zap.Logger, jobs ...Job) (*Scheduler, error) {
	if cron == "" {
		cron = DefaultCron
	}
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid maintenance cron expression: %q", cron)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{cron: cron, jobs: jobs, log: log, now: time.Now, after: time.After}, nil
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, t.UTC(), false)
}

// RunOnce runs all jobs; a failing job does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var all []error
	for _, j := range s.jobs {
		start := s.now()
		if err := j.Run(ctx); err != nil {
			s.log.Error("maintenance job failed", zap.String("job", j.Name), zap.Error(err))
			all = append(all, fmt.Errorf("%s: %w", j.Name, err))
			continue
		}
		s.log.Debug("maintenance job done", zap.String("job", j.Name), zap.Duration("dur", s.now().Sub(start)))
	}
	return errors.Join(all...)
}

// Run blocks until ctx is done, running the jobs at every tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("maintenance scheduler started", zap.String("cron", s.cron), zap.Int("jobs", len(s.jobs)))
	for {
		wait := 30 * time.Second
		next, err := s.Next(s.now())
		if err != nil {
			s.log.Error("maintenance next tick failed", zap.Error(err))
		} else {
			wait = next.Sub(s.now())
		}
		select {
		case <-ctx.Done():
			s.log.Info("maintenance scheduler stopping")
			return
		case <-s.after(wait):
			if err == nil {
				_ = s.RunOnce(ctx)
			}
		}
	}
}

// LimiterJobs prunes stale login attempts and idle request buckets.
// Either limiter may be nil.
func LimiterJobs(lock *limiter.Lockout, pool *limiter.RatePool, retain, idle time.Duration, log *zap.Logger) []Job {
	if log == nil {
		log = zap.NewNop()
	}
	var jobs []Job
	if lock != nil {
		jobs = append(jobs, Job{Name: "prune-login-attempts", Run: func(ctx context.Context) error {
			n, err := lock.Prune(ctx, retain)
			if err != nil {
				return err
			}
			log.Info("login attempts pruned", zap.Int64("rows", n))
			return nil
		}})
	}
	if pool != nil {
		jobs = append(jobs, Job{Name: "prune-rate-buckets", Run: func(context.Context) error {
			n := pool.Prune(idle)
			log.Debug("rate buckets pruned", zap.Int("dropped", n), zap.Int("left", pool.Len()))
			return nil
		}})
	}
	return jobs
}
