// Package testutil provides test utilities shared by package tests
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/firefly-engineering/sandboxd/internal/store"
)

// EnvRedisURL names a Redis server for tests that need one.
const EnvRedisURL = "SANDBOXD_TEST_REDIS_URL"

// Clock is a settable time source for tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// NewStore opens a record store backed by a SQLite file in a temp dir. The
// store is closed when the test ends.
func NewStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()

	cfg := store.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "sandboxd.db"),
	}
	s, cleanup, err := store.Open(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		if err := cleanup(context.Background()); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})
	return s
}

// RedisClient connects to the Redis server named by SANDBOXD_TEST_REDIS_URL
// and skips the test when it is unset or unreachable. It returns the client
// and a key prefix unique to the test; keys under the prefix are removed
// when the test ends.
func RedisClient(t *testing.T) (*redis.Client, string) {
	t.Helper()

	url := os.Getenv(EnvRedisURL)
	if url == "" {
		t.Skipf("%s not set", EnvRedisURL)
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("invalid %s: %v", EnvRedisURL, err)
	}
	client := redis.NewClient(opts)
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis unreachable: %v", err)
	}

	prefix := "sandboxd-test:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = client.Close()
	})
	return client, prefix
}
