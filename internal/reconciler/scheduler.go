package reconciler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a named sweep with a fixed delay measured from the end of one run
// to the start of the next. A slow run pushes the next one back, so a job
// never overlaps itself; different jobs still run concurrently.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler drives a fixed set of jobs for the process lifetime. There is
// no persisted schedule state and no hidden registry: what you pass to
// NewScheduler is everything it will ever run.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewScheduler builds scheduler over the given jobs.
func NewScheduler(logger *zap.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, logger: logger}
}

// Start launches one loop per job and returns immediately. Loops stop when
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Wait blocks until every job loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	timer := time.NewTimer(job.Every)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.runOnce(ctx, job)
		timer.Reset(job.Every)
	}
}

// runOnce isolates a single run: an error or panic is logged and never
// reaches the loop, so one bad sweep cannot stop the schedule.
func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", zap.String("job", job.Name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("error during synchronization",
			zap.String("job", job.Name), zap.Error(err))
		return
	}
	s.logger.Debug("job completed",
		zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
}
