// Package schedule runs a job on a cron expression. Runs never overlap:
// a tick that fires while the previous run is still going is skipped.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/hpungsan/qafinder/internal/errors"
	"github.com/hpungsan/qafinder/internal/logging"
)

// StopTimeout bounds how long Stop waits for a running job.
const StopTimeout = 30 * time.Second

// Job is one scheduled unit of work. The context is cancelled when the
// scheduler stops.
type Job func(ctx context.Context) error

// Scheduler owns a cron runner with a single entry.
type Scheduler struct {
	expr   string
	job    Job
	logger *slog.Logger

	cron  *rcron.Cron
	entry rcron.EntryID

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New validates expr (five-field cron or a descriptor such as "@hourly" or
// "@every 6h") and registers job against it. Nothing runs until Start.
func New(expr string, job Job, logger *slog.Logger) (*Scheduler, error) {
	if _, err := rcron.ParseStandard(expr); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid schedule %q: %v", expr, err))
	}
	logger = logging.OrDefault(logger).With("component", "schedule")
	cl := cronLogger{logger}

	s := &Scheduler{
		expr:   expr,
		job:    job,
		logger: logger,
		cron: rcron.New(
			rcron.WithLogger(cl),
			rcron.WithChain(rcron.Recover(cl), rcron.SkipIfStillRunning(cl)),
		),
	}

	id, err := s.cron.AddFunc(expr, s.run)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid schedule %q: %v", expr, err))
	}
	s.entry = id
	return s, nil
}

// Start begins firing on schedule. The scheduler stops by itself when ctx
// is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.expr, "next", s.Next())

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the schedule, cancels a running job and waits up to
// StopTimeout for it to return. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(StopTimeout):
		s.logger.Warn("stop timed out waiting for running job")
	}
}

// Next returns the next activation time, or the zero time when the
// scheduler is not running.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	s.logger.Info("scheduled job started")
	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduled job failed", "error", err, "elapsed", time.Since(start))
		return
	}
	s.logger.Info("scheduled job finished", "elapsed", time.Since(start))
}

// cronLogger adapts slog to the cron library's logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
