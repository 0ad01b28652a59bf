package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalClientCopyLocalToRemote(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "a.evt")
	if err := os.WriteFile(src, []byte("event-data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	root := t.TempDir()
	client := NewLocalClient(root)
	if err := client.CopyLocalToRemote(context.Background(), src, "/remote/out/a.evt"); err != nil {
		t.Fatalf("CopyLocalToRemote: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "remote", "out", "a.evt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "event-data" {
		t.Fatalf("unexpected content %q", got)
	}

	entries, err := os.ReadDir(filepath.Join(root, "remote", "out"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestLocalClientStaysBelowRoot(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "a.evt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	root := t.TempDir()
	client := NewLocalClient(root)
	if err := client.CopyLocalToRemote(context.Background(), src, "../../escape.evt"); err != nil {
		t.Fatalf("CopyLocalToRemote: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.evt")); err != nil {
		t.Fatalf("expected file under root: %v", err)
	}
}

func TestLocalClientMissingSource(t *testing.T) {
	t.Parallel()

	client := NewLocalClient(t.TempDir())
	err := client.CopyLocalToRemote(context.Background(), filepath.Join(t.TempDir(), "missing"), "/out/missing")
	if err == nil {
		t.Fatalf("expected error for missing source")
	}
}

func TestLocalClientEmptyRemotePath(t *testing.T) {
	t.Parallel()

	client := NewLocalClient(t.TempDir())
	if err := client.CopyLocalToRemote(context.Background(), "whatever", " "); err == nil {
		t.Fatalf("expected error for empty remote path")
	}
}
