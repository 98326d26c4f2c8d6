package infra

import (
	"context"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the export pass on a cron cadence with
// max-one-instance semantics: a trigger that fires while a pass is
// still in flight is skipped, never queued, because the ledger and
// watermark are not designed for concurrent mutation.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	job     func()
	running atomic.Bool
}

// NewScheduler wires a job to a standard 5-field cron schedule.
func NewScheduler(schedule string, job func(), logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		logger: logger,
		job:    job,
	}
	if _, err := s.cron.AddFunc(schedule, s.runGuarded); err != nil {
		return nil, err
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is canceled, then
// waits for any in-flight pass to finish before returning.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.LogNextRun()

	<-ctx.Done()
	s.logger.Info("stopping scheduler")
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped gracefully")
}

// LogNextRun logs the next scheduled fire time in local and UTC.
func (s *Scheduler) LogNextRun() {
	entries := s.cron.Entries()
	if len(entries) == 0 || entries[0].Next.IsZero() {
		s.logger.Info("next scheduled run: not scheduled")
		return
	}
	next := entries[0].Next
	s.logger.Info("next scheduled run",
		zap.Time("local", next),
		zap.Time("utc", next.UTC()))
}

func (s *Scheduler) runGuarded() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous pass still running, skipping this trigger")
		return
	}
	defer s.running.Store(false)

	s.job()
	s.LogNextRun()
}
