package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestClient returns a client connected to localhost:6379. Tests are
// skipped if Redis is not reachable.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	c := NewClient(Config{Addr: "localhost:6379", DB: 15})
	if err := c.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available at localhost:6379: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.Addr != defaultAddr || c.Key != defaultKey {
		t.Errorf("defaults = %+v", c)
	}
}

func TestWatermarkRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	key := "cronsync:test:" + t.Name()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	w := NewWatermark(client, key, time.Minute)
	if got, err := w.LoadWatermark(ctx); err != nil || got != nil {
		t.Fatalf("empty = %v, %v", got, err)
	}

	want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	if err := w.SaveWatermark(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := w.LoadWatermark(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || !got.Equal(want) {
		t.Errorf("watermark = %v, want %v", got, want)
	}

	if ttl := client.TTL(ctx, key).Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %v", ttl)
	}
}

func TestWatermarkCorruptValue(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	key := "cronsync:test:" + t.Name()
	t.Cleanup(func() { client.Del(context.Background(), key) })

	client.Set(ctx, key, "yesterday", 0)
	if _, err := NewWatermark(client, key, 0).LoadWatermark(ctx); err == nil {
		t.Error("expected parse error")
	}
}
