package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collector/app/service"
)

const ScheduledReason = "scheduled"

// Flusher runs one spool flush cycle.
type Flusher interface {
	Flush(ctx context.Context, reason string) (service.Summary, error)
}

// Scheduler triggers flush cycles on a cron schedule. A cycle still running
// when the next tick fires makes that tick a no-op.
type Scheduler struct {
	cron    *cron.Cron
	flusher Flusher
	timeout time.Duration
	logger  logrus.FieldLogger
	entry   cron.EntryID

	mu   sync.Mutex
	base context.Context
}

// New builds a scheduler. timeout bounds each cycle; zero means 5 minutes.
func New(flusher Flusher, timeout time.Duration, logger logrus.FieldLogger) *Scheduler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "flush-scheduler")
	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		flusher: flusher,
		timeout: timeout,
		logger:  logger,
	}
}

// Schedule registers the flush cycle under the cron expression expr, replacing any earlier schedule.
func (s *Scheduler) Schedule(expr string) error {
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	id, err := s.cron.AddFunc(expr, s.RunOnce)
	if err != nil {
		return fmt.Errorf("schedule flush %q: %w", expr, err)
	}
	s.entry = id
	s.logger.WithField("schedule", expr).Info("flush cycle scheduled")
	return nil
}

// Run starts the cron loop and blocks until ctx is done. Cycles derive their
// context from ctx, so cancelling it also cancels a running cycle, which Run
// waits for before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.logger.Info("scheduler started")
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("scheduler stopping")
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// RunOnce runs one flush cycle with a fresh request ID.
func (s *Scheduler) RunOnce() {
	requestID := uuid.NewString()
	logger := s.logger.WithField("request_id", requestID)

	ctx, cancel := context.WithTimeout(service.WithRequestID(s.baseContext(), requestID), s.timeout)
	defer cancel()

	summary, err := s.flusher.Flush(ctx, ScheduledReason)
	switch {
	case errors.Is(err, service.ErrFlushInProgress):
		logger.Debug("flush already in progress elsewhere, skipping tick")
	case err != nil:
		logger.WithError(err).Error("scheduled flush failed")
	default:
		logger.WithFields(logrus.Fields{"files": summary.Files, "removed": summary.Removed}).Debug("scheduled flush done")
	}
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.base == nil {
		return context.Background()
	}
	return s.base
}
