package processor

import (
	"context"

	"github.com/vibast-solutions/ms-go-collector/app/spool"
)

// Processor delivers one spooled event file to one sink.
type Processor interface {
	// ProcessEventFile delivers localPath to outputPath. An error means the file
	// was not delivered to this sink; it is never retried here.
	ProcessEventFile(ctx context.Context, eventName string, kind spool.Serialization, localPath string, outputPath string) error
	// Name is the stable identifier used in logs and the management API.
	Name() string
	// Close releases resources held by the processor.
	Close() error
}

// FlushToggler is implemented by processors whose delivery can be switched at runtime.
type FlushToggler interface {
	EnableFlush()
	DisableFlush()
	FlushEnabled() bool
}

// PendingCounter is implemented by processors that report undelivered local files.
type PendingCounter interface {
	PendingFiles() (int, error)
}

// PendingSource counts files waiting in the local spool.
type PendingSource interface {
	Count() (int, error)
}
