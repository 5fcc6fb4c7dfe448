package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBucket(t *testing.T, capacity int, refill float64) (*TokenBucket, *time.Time) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	bucket := NewTokenBucket(client, capacity, refill, time.Minute)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket.now = func() time.Time { return clock }
	return bucket, &clock
}

func TestTokenBucketCapacity(t *testing.T) {
	ctx := context.Background()
	bucket, _ := newTestBucket(t, 2, 1)

	d, err := bucket.Allow(ctx, "10.0.0.1")
	if err != nil || !d.Allowed {
		t.Fatalf("expected first token allowed got %+v err=%v", d, err)
	}
	d, _ = bucket.Allow(ctx, "10.0.0.1")
	if !d.Allowed {
		t.Fatalf("expected second token allowed")
	}
	d, _ = bucket.Allow(ctx, "10.0.0.1")
	if d.Allowed {
		t.Fatalf("expected third token to be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("unexpected retry-after %v", d.RetryAfter)
	}

	d, _ = bucket.Allow(ctx, "10.0.0.2")
	if !d.Allowed {
		t.Fatalf("buckets must be per client")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	ctx := context.Background()
	bucket, clock := newTestBucket(t, 1, 0.5)

	if d, _ := bucket.Allow(ctx, "c"); !d.Allowed {
		t.Fatal("expected first token allowed")
	}
	*clock = clock.Add(time.Second)
	d, _ := bucket.Allow(ctx, "c")
	if d.Allowed {
		t.Fatal("half a token must not be enough")
	}
	if d.Remaining < 0.49 || d.Remaining > 0.51 {
		t.Fatalf("expected fractional remaining, got %v", d.Remaining)
	}
	*clock = clock.Add(time.Second)
	if d, _ := bucket.Allow(ctx, "c"); !d.Allowed {
		t.Fatal("expected refilled token")
	}
}
