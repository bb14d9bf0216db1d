/**
 * @description
 * Cron scheduler for repeated claim passes. Each tick runs a complete pass through
 * the RunFunc; a tick that fires while the previous pass is still running is skipped.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// RunFunc performs one claim pass, typically on a freshly opened browser session.
type RunFunc func(ctx context.Context) (RunResult, error)

// Scheduler manages the claim cron job.
type Scheduler struct {
	cron     *cron.Cron
	run      RunFunc
	schedule string
	ctx      context.Context
	logger   *slog.Logger

	mu      sync.Mutex
	last    *RunResult
	lastErr error
}

// NewScheduler creates a scheduler whose passes run under ctx.
func NewScheduler(ctx context.Context, run RunFunc, schedule string, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:     c,
		run:      run,
		schedule: schedule,
		ctx:      ctx,
		logger:   logger,
	}
}

// Start registers the claim job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("schedule claim job %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled claim job", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop stops the scheduler. The returned context is done once a running pass finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// LastRun returns the result and error of the most recent pass. The result is nil
// until a pass ran.
func (s *Scheduler) LastRun() (*RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, nil
	}
	res := *s.last
	return &res, s.lastErr
}

func (s *Scheduler) tick() {
	if s.ctx.Err() != nil {
		return
	}
	s.logger.Info("starting scheduled claim pass")
	res, err := s.run(s.ctx)
	if err != nil {
		s.logger.Error("scheduled claim pass failed", "run_id", res.RunID, "exit_code", ExitCode(err), "error", err)
	} else {
		s.logger.Info("scheduled claim pass finished", "run_id", res.RunID, "entries", len(res.Entries))
	}

	s.mu.Lock()
	s.last = &res
	s.lastErr = err
	s.mu.Unlock()
}
