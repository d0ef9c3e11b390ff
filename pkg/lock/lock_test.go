package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"appointments/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, logger.NewNop()), mr
}

func TestAcquire_SecondCallerDenied(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	token, err := locker.Acquire(ctx, "lock:slot:s1", 30*time.Second)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	if _, err := locker.Acquire(ctx, "lock:slot:s1", 30*time.Second); !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
}

func TestAcquire_ConcurrentCallersSingleWinner(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locker.Acquire(ctx, "lock:slot:contended", 30*time.Second); err == nil {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestRelease_ForeignTokenLeavesLockIntact(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	token, err := locker.Acquire(ctx, "lock:booking:b1", 30*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := locker.Release(ctx, "lock:booking:b1", "someone-else"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	got, err := mr.Get("lock:booking:b1")
	if err != nil || got != token {
		t.Fatalf("lock should still hold original token, got %q (%v)", got, err)
	}

	if err := locker.Release(ctx, "lock:booking:b1", token); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if mr.Exists("lock:booking:b1") {
		t.Fatal("expected key to be deleted after owner release")
	}
}

func TestAcquire_AfterTTLExpiry(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "lock:job:expire-bookings", 120*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	mr.FastForward(121 * time.Second)

	second, err := locker.Acquire(ctx, "lock:job:expire-bookings", 120*time.Second)
	if err != nil {
		t.Fatalf("expected acquire after expiry, got %v", err)
	}
	if first == second {
		t.Fatal("expected a fresh token after expiry")
	}

	// The stale holder must not be able to free the new owner's lock.
	if err := locker.Release(ctx, "lock:job:expire-bookings", first); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld for stale token, got %v", err)
	}
	if !mr.Exists("lock:job:expire-bookings") {
		t.Fatal("stale release removed the current lock")
	}
}

func TestRenew(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	token, err := locker.Acquire(ctx, "lock:slot:s2", 10*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	mr.FastForward(8 * time.Second)
	if err := locker.Renew(ctx, "lock:slot:s2", token, 10*time.Second); err != nil {
		t.Fatalf("renew: %v", err)
	}
	mr.FastForward(8 * time.Second)
	if !mr.Exists("lock:slot:s2") {
		t.Fatal("expected renewed lock to survive")
	}

	if err := locker.Renew(ctx, "lock:slot:s2", "bogus", 10*time.Second); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld for foreign renew, got %v", err)
	}
}

func TestAcquire_StoreDownFailsClosed(t *testing.T) {
	locker, mr := newTestLocker(t)
	mr.Close()

	_, err := locker.Acquire(context.Background(), "lock:slot:s3", time.Second)
	if !errors.Is(err, ErrDenied) {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable in chain, got %v", err)
	}
}

func TestAcquire_RejectsNonPositiveTTL(t *testing.T) {
	locker, _ := newTestLocker(t)
	if _, err := locker.Acquire(context.Background(), "lock:slot:s4", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := WithLock(ctx, locker, logger.NewNop(), "lock:booking:b2", 30*time.Second, func(ctx context.Context) error {
		if !mr.Exists("lock:booking:b2") {
			t.Error("expected lock to be held inside fn")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if mr.Exists("lock:booking:b2") {
		t.Fatal("expected lock released after fn returned")
	}
}

func TestWithLock_ReleasesOnPanic(t *testing.T) {
	locker, mr := newTestLocker(t)

	func() {
		defer func() { _ = recover() }()
		_ = WithLock(context.Background(), locker, logger.NewNop(), "lock:booking:b3", 30*time.Second, func(ctx context.Context) error {
			panic("kaboom")
		})
	}()

	if mr.Exists("lock:booking:b3") {
		t.Fatal("expected lock released after panic")
	}
}

func TestHandle_ReleaseIsIdempotent(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	h, err := Obtain(ctx, locker, "lock:slot:s5", time.Minute)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("second release should return the first result, got %v", err)
	}
}

func TestKeepAlive_StopsWhenLockLost(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	h, err := Obtain(ctx, locker, "lock:job:reminders", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}

	stop := KeepAlive(ctx, h, logger.NewNop())
	mr.Del("lock:job:reminders")
	time.Sleep(60 * time.Millisecond)

	if lost := stop(); !lost {
		t.Fatal("expected keep-alive to report the lock as lost")
	}
}
