package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalClient writes into a mounted filesystem root (NFS, HDFS fuse mount).
// Remote paths are slash-separated and resolved below the root.
type LocalClient struct {
	root string
}

// NewLocalClient builds a client rooted at root.
func NewLocalClient(root string) *LocalClient {
	return &LocalClient{root: root}
}

// CopyLocalToRemote copies through a temp file and renames it into place so
// readers never observe a partial file.
func (c *LocalClient) CopyLocalToRemote(ctx context.Context, localPath string, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := c.resolve(remotePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create remote directory: %w", err)
	}

	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copy %s: %w", localPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("rename into %s: %w", dst, err)
	}
	return nil
}

// Close is a no-op for mounted filesystems.
func (c *LocalClient) Close() error {
	return nil
}

func (c *LocalClient) resolve(remotePath string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(remotePath))
	if cleaned == "/" {
		return "", fmt.Errorf("remote path is required")
	}
	return filepath.Join(c.root, filepath.FromSlash(cleaned)), nil
}
