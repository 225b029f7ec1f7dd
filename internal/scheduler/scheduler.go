// Package scheduler runs maintenance jobs such as the stale-ticket sweep on
// a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of periodic work. Jobs should be idempotent; a failing or
// panicking job is logged and retried on the next tick.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler executes its jobs in order on every tick. It stops when the
// parent context is done or Shutdown is called.
type Scheduler struct {
	interval time.Duration
	jobs     []Job
	log      *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Scheduler. Intervals under one second are clamped to one
// second.
func New(interval time.Duration, logger *zap.Logger, jobs ...Job) *Scheduler {
	if interval < time.Second {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		interval: interval,
		jobs:     jobs,
		log:      logger,
		stopCh:   make(chan struct{}),
	}
}

// Interval returns the effective tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Run starts the ticker loop, running every job once immediately. It blocks
// until stopped.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("scheduler started", zap.Duration("interval", s.interval), zap.Int("jobs", len(s.jobs)))
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: parent context cancelled")
			return
		case <-s.stopCh:
			s.log.Info("scheduler: shutdown signal received")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes every job a single time and returns the number that failed.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	failed := 0
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return failed
		}
		start := time.Now()
		if err := s.runJob(ctx, job); err != nil {
			failed++
			s.log.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
			continue
		}
		s.log.Debug("scheduled job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
	}
	return failed
}

func (s *Scheduler) runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}

// Shutdown signals the Run loop to exit. It is idempotent.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
