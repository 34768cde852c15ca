// Package scheduler runs periodic maintenance jobs.
//
// Jobs are scheduled with standard 5-field cron expressions or descriptors
// such as "@every 1m" and "@hourly".
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	// SkipIfStillRunning keeps a slow sweep from overlapping the next one.
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddContextJob schedules a named task that receives ctx and may fail.
// Each run is bounded by timeout; failures are logged.
func (s *Scheduler) AddContextJob(ctx context.Context, expr, name string, timeout time.Duration, task func(context.Context) error) error {
	return s.AddJob(expr, func() {
		if ctx.Err() != nil {
			return
		}
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		start := time.Now()
		if err := task(runCtx); err != nil {
			slog.Error("Scheduler job failed", "job", name, "error", err, "elapsed", time.Since(start))
			return
		}
		slog.Debug("Scheduler job finished", "job", name, "elapsed", time.Since(start))
	})
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
