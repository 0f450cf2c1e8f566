// Package scheduler runs the consolidation engine on a fixed interval.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/energitech/consolidator/internal/model"
)

// DefaultInterval applies when the configured interval is not positive.
const DefaultInterval = time.Hour

// Runner executes one consolidation run.
type Runner interface {
	Run(ctx context.Context) (*model.RunSummary, error)
}

// Scheduler periodically triggers consolidation runs. Runs never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	runs      atomic.Int64
	log       *zap.Logger
}

// New creates a new Scheduler.
func New(runner Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		runner:    runner,
		interval:  interval,
		log:       zap.L().With(zap.String("component", "scheduler")),
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first run fires immediately. Runs use ctx, so cancelling it aborts
// an in-flight run's I/O.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.scheduler.Every(s.interval).Do(func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return eris.Wrap(err, "scheduler: schedule consolidation")
	}

	s.log.Info("scheduler: started", zap.Duration("interval", s.interval))
	s.scheduler.StartAsync()
	return nil
}

// RunOnce performs one scheduled run and logs its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.runs.Add(1)

	summary, err := s.runner.Run(ctx)
	if err != nil {
		s.log.Error("scheduler: consolidation run failed", zap.Error(err))
		return
	}
	s.log.Info("scheduler: consolidation run complete",
		zap.String("run_id", summary.RunID),
		zap.Int64("rows_written", summary.RowsWritten),
	)
}

// Runs returns how many runs the scheduler has triggered.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.log.Info("scheduler: stopped")
}
