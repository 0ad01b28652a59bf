package processor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// FlagsKey is the Redis hash holding the operator's flush flags, one field per processor.
const FlagsKey = "collector:spool:flush-flags"

// RedisFlagStore shares processor flush flags between every collector process
// using the same Redis, so a toggle made through one process reaches the
// process that ends up running the flush.
type RedisFlagStore struct {
	client *redis.Client
	key    string
}

// NewRedisFlagStore builds a flag store on key, or FlagsKey when key is empty.
func NewRedisFlagStore(client *redis.Client, key string) *RedisFlagStore {
	if key == "" {
		key = FlagsKey
	}
	return &RedisFlagStore{client: client, key: key}
}

// Store records the flush flag of one processor.
func (s *RedisFlagStore) Store(ctx context.Context, name string, enabled bool) error {
	if err := s.client.HSet(ctx, s.key, name, strconv.FormatBool(enabled)).Err(); err != nil {
		return fmt.Errorf("store flush flag %s: %w", name, err)
	}
	return nil
}

// Load returns every stored flag. Processors never toggled are absent.
func (s *RedisFlagStore) Load(ctx context.Context) (map[string]bool, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load flush flags: %w", err)
	}
	flags := make(map[string]bool, len(raw))
	for name, value := range raw {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("flush flag %s: %w", name, err)
		}
		flags[name] = enabled
	}
	return flags, nil
}

// ApplyFlags sets the flush flag of every toggleable processor in set that
// has a stored value. It returns the names whose flag changed.
func ApplyFlags(set *Set, flags map[string]bool) []string {
	var changed []string
	for name, enabled := range flags {
		p, ok := set.Get(name)
		if !ok {
			continue
		}
		toggler, ok := p.(FlushToggler)
		if !ok || toggler.FlushEnabled() == enabled {
			continue
		}
		if enabled {
			toggler.EnableFlush()
		} else {
			toggler.DisableFlush()
		}
		changed = append(changed, name)
	}
	return changed
}
