package processor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-collector/app/metrics"
	"github.com/vibast-solutions/ms-go-collector/app/spool"
	"github.com/vibast-solutions/ms-go-collector/app/storage"
)

const FilesystemName = "filesystem"

// FilesystemProcessor copies spool files onto a remote filesystem.
//
// The flush flag is advisory here: ProcessEventFile copies regardless of it.
// The dispatcher reads the flag and skips disabled processors.
type FilesystemProcessor struct {
	client  storage.Client
	pending PendingSource
	enabled atomic.Bool
	logger  logrus.FieldLogger
}

// NewFilesystemProcessor builds the processor with its flag set to flushEnabled.
func NewFilesystemProcessor(client storage.Client, pending PendingSource, flushEnabled bool, logger logrus.FieldLogger) *FilesystemProcessor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &FilesystemProcessor{
		client:  client,
		pending: pending,
		logger:  logger.WithField("processor", FilesystemName),
	}
	p.enabled.Store(flushEnabled)
	metrics.SetFlushEnabled(FilesystemName, flushEnabled)
	return p
}

// ProcessEventFile copies localPath to outputPath on the remote filesystem.
func (p *FilesystemProcessor) ProcessEventFile(ctx context.Context, eventName string, kind spool.Serialization, localPath string, outputPath string) error {
	p.logger.WithFields(logrus.Fields{
		"event":         eventName,
		"serialization": kind,
		"source":        localPath,
		"destination":   outputPath,
	}).Info("copying spool file to remote filesystem")

	if err := p.client.CopyLocalToRemote(ctx, localPath, outputPath); err != nil {
		return fmt.Errorf("copy %s to %s: %w", localPath, outputPath, err)
	}
	return nil
}

// Name returns the processor identifier.
func (p *FilesystemProcessor) Name() string {
	return FilesystemName
}

// Close releases the filesystem client.
func (p *FilesystemProcessor) Close() error {
	return p.client.Close()
}

func (p *FilesystemProcessor) EnableFlush() {
	p.enabled.Store(true)
	metrics.SetFlushEnabled(FilesystemName, true)
}

func (p *FilesystemProcessor) DisableFlush() {
	p.enabled.Store(false)
	metrics.SetFlushEnabled(FilesystemName, false)
}

func (p *FilesystemProcessor) FlushEnabled() bool {
	return p.enabled.Load()
}

// PendingFiles counts the files still waiting in the local spool.
func (p *FilesystemProcessor) PendingFiles() (int, error) {
	if p.pending == nil {
		return 0, nil
	}
	return p.pending.Count()
}
