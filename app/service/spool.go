package service

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collector/app/dispatcher"
	"github.com/vibast-solutions/ms-go-collector/app/entity"
	"github.com/vibast-solutions/ms-go-collector/app/processor"
	"github.com/vibast-solutions/ms-go-collector/app/repository"
	"github.com/vibast-solutions/ms-go-collector/app/spool"
)

// FlushLockName guards the flush cycle across every collector sharing a spool.
const FlushLockName = "collector:spool:flush"

// FlushLocker is the named lock taken around a flush cycle.
type FlushLocker interface {
	Acquire(ctx context.Context) error
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Summary counts the outcome of one flush cycle. Delivered, Failed and
// Deferred are per-processor counts; Files and Removed are per file.
type Summary struct {
	Files     int `json:"files"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
	Removed   int `json:"removed"`
}

// Status maps the summary to a history status.
func (s Summary) Status() int16 {
	switch {
	case s.Failed == 0:
		return entity.FlushStatusSuccess
	case s.Delivered > 0:
		return entity.FlushStatusPartialFailure
	default:
		return entity.FlushStatusFailure
	}
}

// DeliveryNotifier announces a spool file once every processor delivered it.
type DeliveryNotifier interface {
	NotifyDelivered(ctx context.Context, f spool.File, outputPath string) error
}

// FlagSource returns the shared processor flush flags.
type FlagSource interface {
	Load(ctx context.Context) (map[string]bool, error)
}

// SpoolOption configures optional SpoolService collaborators.
type SpoolOption func(*SpoolService)

// WithNotifier publishes a notice for every file removed after full delivery.
func WithNotifier(n DeliveryNotifier) SpoolOption {
	return func(s *SpoolService) { s.notifier = n }
}

// WithFlagSource applies the shared flush flags to the processors at the start
// of every cycle, after the flush lock is taken.
func WithFlagSource(f FlagSource) SpoolOption {
	return func(s *SpoolService) { s.flags = f }
}

type SpoolService struct {
	scanner    *spool.Scanner
	dispatcher *dispatcher.Dispatcher
	locker     FlushLocker
	history    *repository.FlushHistoryRepository
	notifier   DeliveryNotifier
	flags      FlagSource
	remoteRoot string
	wait       bool
	logger     logrus.FieldLogger
}

// NewSpoolService builds the flush service. history may be nil.
func NewSpoolService(scanner *spool.Scanner, d *dispatcher.Dispatcher, locker FlushLocker, history *repository.FlushHistoryRepository, remoteRoot string, wait bool, logger logrus.FieldLogger, opts ...SpoolOption) *SpoolService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &SpoolService{
		scanner:    scanner,
		dispatcher: d,
		locker:     locker,
		history:    history,
		remoteRoot: remoteRoot,
		wait:       wait,
		logger:     logger.WithField("component", "spool-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pending returns the number of files waiting in the spool.
func (s *SpoolService) Pending() (int, error) {
	return s.scanner.Count()
}

// Flush runs one dispatch cycle over the spool under the flush lock.
// It returns ErrFlushInProgress when another process holds the lock and the
// service is not configured to wait for it.
func (s *SpoolService) Flush(ctx context.Context, reason string) (Summary, error) {
	requestID, ok := RequestIDFromContext(ctx)
	if !ok || requestID == "" {
		return Summary{}, fmt.Errorf("request_id is required in context")
	}
	logger := s.logger.WithFields(logrus.Fields{"request_id": requestID, "reason": reason})

	if err := s.lock(ctx); err != nil {
		return Summary{}, err
	}
	defer func() {
		if err := s.locker.Release(context.Background()); err != nil {
			logger.WithError(err).Error("failed to release flush lock")
		}
	}()

	if err := s.applyFlags(ctx, logger); err != nil {
		return Summary{}, err
	}

	if err := s.createHistory(ctx, requestID, reason); err != nil {
		return Summary{}, err
	}

	summary, err := s.flush(ctx, logger)

	if finishErr := s.finishHistory(ctx, requestID, summary, err); finishErr != nil {
		if err != nil {
			return summary, fmt.Errorf("flush: %v; update history: %w", err, finishErr)
		}
		return summary, fmt.Errorf("update history: %w", finishErr)
	}
	if err != nil {
		return summary, err
	}

	logger.WithFields(logrus.Fields{
		"files":     summary.Files,
		"delivered": summary.Delivered,
		"failed":    summary.Failed,
		"deferred":  summary.Deferred,
		"removed":   summary.Removed,
	}).Info("spool flush finished")
	return summary, nil
}

func (s *SpoolService) lock(ctx context.Context) error {
	if s.wait {
		if err := s.locker.Acquire(ctx); err != nil {
			return fmt.Errorf("acquire flush lock: %w", err)
		}
		return nil
	}
	acquired, err := s.locker.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire flush lock: %w", err)
	}
	if !acquired {
		return ErrFlushInProgress
	}
	return nil
}

func (s *SpoolService) flush(ctx context.Context, logger logrus.FieldLogger) (Summary, error) {
	var summary Summary

	files, err := s.scanner.Scan(ctx)
	if err != nil {
		return summary, fmt.Errorf("scan spool: %w", err)
	}
	summary.Files = len(files)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		outputPath := path.Join(s.remoteRoot, f.RelPath)
		res := s.dispatcher.Dispatch(ctx, f.EventName, f.Serialization, f.Path, outputPath)
		summary.Delivered += len(res.Delivered)
		summary.Failed += len(res.Failed)
		summary.Deferred += len(res.Deferred)

		if !res.Complete() {
			continue
		}
		if s.notifier != nil {
			if err := s.notifier.NotifyDelivered(ctx, f, outputPath); err != nil {
				// The file stays spooled so the notice goes out with the next delivery.
				logger.WithError(err).WithField("file", f.Path).Error("failed to announce delivered spool file")
				summary.Failed++
				continue
			}
		}
		if err := s.scanner.Remove(f); err != nil {
			logger.WithError(err).WithField("file", f.Path).Error("failed to remove delivered spool file")
			continue
		}
		summary.Removed++
	}
	return summary, nil
}

func (s *SpoolService) applyFlags(ctx context.Context, logger logrus.FieldLogger) error {
	if s.flags == nil {
		return nil
	}
	flags, err := s.flags.Load(ctx)
	if err != nil {
		return fmt.Errorf("load flush flags: %w", err)
	}
	for _, name := range processor.ApplyFlags(s.dispatcher.Set(), flags) {
		logger.WithFields(logrus.Fields{"processor": name, "flush_enabled": flags[name]}).Info("processor flush flag synced")
	}
	return nil
}

func (s *SpoolService) createHistory(ctx context.Context, requestID string, reason string) error {
	if s.history == nil {
		return nil
	}
	if err := s.history.Create(ctx, requestID, reason, entity.FlushStatusNew); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrDuplicateRequestID
		}
		return fmt.Errorf("create flush history: %w", err)
	}
	if err := s.history.UpdateStatus(ctx, requestID, entity.FlushStatusProcessing); err != nil {
		return fmt.Errorf("update status to processing: %w", err)
	}
	return nil
}

func (s *SpoolService) finishHistory(ctx context.Context, requestID string, summary Summary, flushErr error) error {
	if s.history == nil {
		return nil
	}
	status := summary.Status()
	if flushErr != nil {
		status = entity.FlushStatusFailure
	}
	return s.history.Finish(context.WithoutCancel(ctx), entity.FlushHistory{
		RequestID: requestID,
		Status:    status,
		Files:     summary.Files,
		Delivered: summary.Delivered,
		Failed:    summary.Failed,
		Deferred:  summary.Deferred,
		Removed:   summary.Removed,
	})
}

// History loads the record of a past flush request.
func (s *SpoolService) History(ctx context.Context, requestID string) (*entity.FlushHistory, error) {
	if s.history == nil {
		return nil, repository.ErrNotFound
	}
	return s.history.FindByRequestID(ctx, requestID)
}
