package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vibast-solutions/ms-go-collector/app/logger"
	"github.com/vibast-solutions/ms-go-collector/app/service"
)

type recordingFlusher struct {
	mu         sync.Mutex
	err        error
	requestIDs []string
	reasons    []string
}

func (f *recordingFlusher) Flush(ctx context.Context, reason string) (service.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	requestID, _ := service.RequestIDFromContext(ctx)
	f.requestIDs = append(f.requestIDs, requestID)
	f.reasons = append(f.reasons, reason)
	return service.Summary{}, f.err
}

func TestRunOnceUsesFreshRequestID(t *testing.T) {
	t.Parallel()

	flusher := &recordingFlusher{}
	s := New(flusher, 0, logger.Discard())
	s.RunOnce()
	s.RunOnce()

	if len(flusher.requestIDs) != 2 {
		t.Fatalf("expected 2 flushes, got %d", len(flusher.requestIDs))
	}
	if flusher.requestIDs[0] == flusher.requestIDs[1] {
		t.Fatalf("expected distinct request ids, got %v", flusher.requestIDs)
	}
	for _, id := range flusher.requestIDs {
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("request id %q is not a uuid: %v", id, err)
		}
	}
	if flusher.reasons[0] != ScheduledReason {
		t.Fatalf("unexpected reason %q", flusher.reasons[0])
	}
}

func TestRunOnceSwallowsErrors(t *testing.T) {
	t.Parallel()

	for _, err := range []error{service.ErrFlushInProgress, errors.New("scan failed")} {
		flusher := &recordingFlusher{err: err}
		New(flusher, 0, logger.Discard()).RunOnce()
		if len(flusher.requestIDs) != 1 {
			t.Fatalf("expected one flush attempt for %v", err)
		}
	}
}

func TestScheduleRejectsInvalidExpression(t *testing.T) {
	t.Parallel()

	s := New(&recordingFlusher{}, 0, logger.Discard())
	if err := s.Schedule("not a schedule"); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Schedule("*/5 * * * *"); err != nil {
		t.Fatalf("Schedule replace: %v", err)
	}
	if len(s.cron.Entries()) != 1 {
		t.Fatalf("expected a single cron entry, got %d", len(s.cron.Entries()))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	s := New(&recordingFlusher{}, 0, logger.Discard())
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}

type blockingFlusher struct {
	started  chan struct{}
	finished chan error
}

func (f *blockingFlusher) Flush(ctx context.Context, _ string) (service.Summary, error) {
	f.started <- struct{}{}
	<-ctx.Done()
	f.finished <- ctx.Err()
	return service.Summary{}, ctx.Err()
}

func TestRunCancelsCycleInFlight(t *testing.T) {
	t.Parallel()

	flusher := &blockingFlusher{started: make(chan struct{}, 4), finished: make(chan error, 4)}
	s := New(flusher, time.Hour, logger.Discard())
	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-flusher.started:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("scheduled cycle never started")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run blocked on the in-flight cycle after cancel")
	}

	select {
	case err := <-flusher.finished:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cycle context cancelled, got %v", err)
		}
	default:
		t.Fatalf("in-flight cycle did not observe cancellation")
	}
}
