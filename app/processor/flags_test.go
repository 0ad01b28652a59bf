package processor

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vibast-solutions/ms-go-collector/app/logger"
)

func TestRedisFlagStoreRoundTrip(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisFlagStore(client, "")
	flags, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(flags) != 0 {
		t.Fatalf("expected no flags before any toggle, got %v", flags)
	}

	if err := store.Store(context.Background(), FilesystemName, false); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if got := mr.HGet(FlagsKey, FilesystemName); got != "false" {
		t.Fatalf("expected stored flag false, got %q", got)
	}

	flags, err = store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if enabled, ok := flags[FilesystemName]; !ok || enabled {
		t.Fatalf("expected filesystem disabled, got %v", flags)
	}
}

func TestRedisFlagStoreRejectsCorruptValue(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mr.HSet(FlagsKey, FilesystemName, "maybe")
	if _, err := NewRedisFlagStore(client, "").Load(context.Background()); err == nil {
		t.Fatalf("expected error for unparsable flag")
	}
}

func TestApplyFlags(t *testing.T) {
	t.Parallel()

	fs := NewFilesystemProcessor(&fakeStorage{}, nil, true, logger.Discard())
	set := NewSet(fs, NewNoopProcessor())

	changed := ApplyFlags(set, map[string]bool{FilesystemName: false, NoopName: false, "gone": true})
	if len(changed) != 1 || changed[0] != FilesystemName {
		t.Fatalf("expected only filesystem changed, got %v", changed)
	}
	if fs.FlushEnabled() {
		t.Fatalf("expected filesystem flush disabled")
	}

	if changed := ApplyFlags(set, map[string]bool{FilesystemName: false}); len(changed) != 0 {
		t.Fatalf("expected no change for an equal flag, got %v", changed)
	}
}
