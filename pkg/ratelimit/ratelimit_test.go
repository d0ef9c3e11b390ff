package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client), mr
}

func TestAllow_SixthRequestRejected(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		res, err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.1", 5, time.Minute)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
		if res.Remaining != 5-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 5-i, res.Remaining)
		}
	}

	res, err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.1", 5, time.Minute)
	if err != nil {
		t.Fatalf("request 6: %v", err)
	}
	if res.Allowed {
		t.Fatal("request 6: expected rejection")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > time.Minute {
		t.Errorf("expected retry-after within window, got %s", res.RetryAfter)
	}
}

func TestAllow_RejectedHitsNotCounted(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if _, err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.2", 5, time.Minute); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	got, err := mr.Get("ratelimit:ip:10.0.0.2")
	if err != nil {
		t.Fatal(err)
	}
	if got != "5" {
		t.Fatalf("expected counter to stay at the limit, got %s", got)
	}

	res, err := limiter.Allow(ctx, "ratelimit:ip:10.0.0.2", 5, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed || res.Count != 5 || res.Remaining != 0 {
		t.Errorf("expected rejection at count 5, got %+v", res)
	}
}

func TestAllow_WindowResetsAfterExpiry(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := limiter.Allow(ctx, "ratelimit:user:u1", 5, time.Minute); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	mr.FastForward(61 * time.Second)

	res, err := limiter.Allow(ctx, "ratelimit:user:u1", 5, time.Minute)
	if err != nil {
		t.Fatalf("after reset: %v", err)
	}
	if !res.Allowed || res.Count != 1 {
		t.Fatalf("expected fresh window with count 1, got %+v", res)
	}
}

func TestAllow_ExpirySetOnFirstHitOnly(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	if _, err := limiter.Allow(ctx, "ratelimit:ip:1.2.3.4", 5, time.Minute); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(40 * time.Second)
	if _, err := limiter.Allow(ctx, "ratelimit:ip:1.2.3.4", 5, time.Minute); err != nil {
		t.Fatal(err)
	}

	// The second hit must not extend the window.
	if ttl := mr.TTL("ratelimit:ip:1.2.3.4"); ttl > 21*time.Second {
		t.Fatalf("expected ttl of at most 20s, got %s", ttl)
	}
}

func TestAllow_RestoresMissingExpiry(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()

	if err := mr.Set("ratelimit:ip:5.6.7.8", "3"); err != nil {
		t.Fatal(err)
	}

	res, err := limiter.Allow(ctx, "ratelimit:ip:5.6.7.8", 5, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 4 {
		t.Fatalf("expected count 4, got %d", res.Count)
	}
	if ttl := mr.TTL("ratelimit:ip:5.6.7.8"); ttl <= 0 {
		t.Fatal("expected expiry to be restored")
	}
}

func TestAllow_InvalidArguments(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	if _, err := limiter.Allow(context.Background(), "k", 0, time.Minute); err == nil {
		t.Error("expected error for zero limit")
	}
	if _, err := limiter.Allow(context.Background(), "k", 5, 0); err == nil {
		t.Error("expected error for zero window")
	}
}

func TestAllow_StoreDown(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	mr.Close()

	if _, err := limiter.Allow(context.Background(), "k", 5, time.Minute); err == nil {
		t.Fatal("expected error when store is unreachable")
	}
}
