package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collector/app/metrics"
	"github.com/vibast-solutions/ms-go-collector/app/processor"
	"github.com/vibast-solutions/ms-go-collector/app/spool"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 4

// Result is the per-processor outcome of dispatching one file.
type Result struct {
	Delivered []string
	Failed    map[string]error
	Deferred  []string
	// Total is the number of processors the file was dispatched against.
	Total int
}

// Complete reports whether every processor delivered the file.
// A file dispatched against an empty set is never complete.
func (r Result) Complete() bool {
	return r.Total > 0 && len(r.Delivered) == r.Total
}

// Stats is a snapshot of the dispatcher counters.
type Stats struct {
	FilesDispatched int64 `json:"files_dispatched"`
	Deliveries      int64 `json:"deliveries"`
	Failures        int64 `json:"failures"`
	Deferred        int64 `json:"deferred"`
}

// Dispatcher hands every spool file to every active processor.
// A processor failure is logged and recorded, never propagated.
type Dispatcher struct {
	set         *processor.Set
	concurrency int
	logger      logrus.FieldLogger

	filesDispatched atomic.Int64
	deliveries      atomic.Int64
	failures        atomic.Int64
	deferred        atomic.Int64
}

// New builds a dispatcher over set. concurrency bounds the processors running
// in parallel for one file; values below 1 use DefaultConcurrency.
func New(set *processor.Set, concurrency int, logger logrus.FieldLogger) *Dispatcher {
	if set == nil {
		set = processor.NewSet()
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		set:         set,
		concurrency: concurrency,
		logger:      logger.WithField("component", "spool-dispatcher"),
	}
}

// Dispatch delivers localPath to every processor. Processors whose flush flag
// is off are deferred: the file stays in the spool for a later cycle.
func (d *Dispatcher) Dispatch(ctx context.Context, eventName string, kind spool.Serialization, localPath string, outputPath string) Result {
	processors := d.set.Processors()
	result := Result{Failed: make(map[string]error), Total: len(processors)}

	d.filesDispatched.Add(1)
	metrics.FilesDispatchedTotal.Inc()

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)

	for _, p := range processors {
		name := p.Name()
		logger := d.logger.WithFields(logrus.Fields{"processor": name, "file": localPath})

		if toggler, ok := p.(processor.FlushToggler); ok && !toggler.FlushEnabled() {
			logger.Debug("flush disabled, deferring delivery")
			d.deferred.Add(1)
			metrics.DeliveriesTotal.WithLabelValues(name, "deferred").Inc()
			mu.Lock()
			result.Deferred = append(result.Deferred, name)
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			err := invoke(ctx, p, eventName, kind, localPath, outputPath)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.WithError(err).Error("processor failed to deliver spool file")
				d.failures.Add(1)
				metrics.DeliveriesTotal.WithLabelValues(name, "failed").Inc()
				result.Failed[name] = err
				return nil
			}
			d.deliveries.Add(1)
			metrics.DeliveriesTotal.WithLabelValues(name, "delivered").Inc()
			result.Delivered = append(result.Delivered, name)
			return nil
		})
	}
	_ = g.Wait()

	return result
}

// invoke runs one processor, turning a panic into an error.
func invoke(ctx context.Context, p processor.Processor, eventName string, kind spool.Serialization, localPath string, outputPath string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor %s panicked: %v", p.Name(), rec)
		}
	}()
	return p.ProcessEventFile(ctx, eventName, kind, localPath, outputPath)
}

// Close releases every processor. All processors are closed even when some fail.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, p := range d.set.Processors() {
		if err := closeProcessor(p); err != nil {
			d.logger.WithError(err).WithField("processor", p.Name()).Error("failed to close processor")
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func closeProcessor(p processor.Processor) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return p.Close()
}

// ProcessorNames lists the active processors.
func (d *Dispatcher) ProcessorNames() []string {
	return d.set.Names()
}

// Set returns the active processor set.
func (d *Dispatcher) Set() *processor.Set {
	return d.set
}

// Processor looks up an active processor by name.
func (d *Dispatcher) Processor(name string) (processor.Processor, bool) {
	return d.set.Get(name)
}

// Processors returns the active processors.
func (d *Dispatcher) Processors() []processor.Processor {
	return d.set.Processors()
}

// Pending returns the undelivered local file count of every processor that tracks one.
func (d *Dispatcher) Pending() (map[string]int, error) {
	pending := make(map[string]int)
	var errs []error
	for _, p := range d.set.Processors() {
		counter, ok := p.(processor.PendingCounter)
		if !ok {
			continue
		}
		count, err := counter.PendingFiles()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		pending[p.Name()] = count
	}
	return pending, errors.Join(errs...)
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		FilesDispatched: d.filesDispatched.Load(),
		Deliveries:      d.deliveries.Load(),
		Failures:        d.failures.Load(),
		Deferred:        d.deferred.Load(),
	}
}
