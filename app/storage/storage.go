package storage

import "context"

// Client copies local files onto a remote, usually distributed, filesystem.
type Client interface {
	CopyLocalToRemote(ctx context.Context, localPath string, remotePath string) error
	Close() error
}
