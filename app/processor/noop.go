package processor

import (
	"context"

	"github.com/vibast-solutions/ms-go-collector/app/spool"
)

const NoopName = "noop"

// NoopProcessor is a stubbed processor that pretends to deliver files.
type NoopProcessor struct{}

// NewNoopProcessor constructs a no-op processor.
func NewNoopProcessor() *NoopProcessor {
	return &NoopProcessor{}
}

// ProcessEventFile returns nil without delivering.
func (p *NoopProcessor) ProcessEventFile(_ context.Context, _ string, _ spool.Serialization, _ string, _ string) error {
	return nil
}

func (p *NoopProcessor) Name() string { return NoopName }

func (p *NoopProcessor) Close() error { return nil }
