package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"appointments/pkg/logger"
)

// Handle is a granted lock. Release is safe to call more than once.
type Handle struct {
	locker Locker
	Key    string
	Token  string
	TTL    time.Duration

	once sync.Once
	err  error
}

// Obtain acquires key and returns a Handle for it.
func Obtain(ctx context.Context, locker Locker, key string, ttl time.Duration) (*Handle, error) {
	token, err := locker.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return &Handle{locker: locker, Key: key, Token: token, TTL: ttl}, nil
}

func (h *Handle) Release(ctx context.Context) error {
	h.once.Do(func() {
		h.err = h.locker.Release(ctx, h.Key, h.Token)
	})
	return h.err
}

func (h *Handle) Renew(ctx context.Context) error {
	return h.locker.Renew(ctx, h.Key, h.Token, h.TTL)
}

// WithLock runs fn while holding key. The lock is released on every exit
// path, including a panic inside fn, using a context detached from ctx so a
// cancelled request still frees the key.
func WithLock(ctx context.Context, locker Locker, log *logger.Logger, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	h, err := Obtain(ctx, locker, key, ttl)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := h.Release(releaseCtx)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotHeld):
			log.Warn("Lock expired before release", "key", key)
		default:
			log.Warn("Failed to release lock", "key", key, "error", err)
		}
	}()

	return fn(ctx)
}

// KeepAlive renews h every TTL/3 until ctx is done or the lock is lost. The
// returned stop function blocks until the renewer has exited and reports
// whether ownership was lost while running.
func KeepAlive(ctx context.Context, h *Handle, log *logger.Logger) (stop func() bool) {
	interval := h.TTL / 3
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	var lost bool

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := h.Renew(ctx)
				if err == nil {
					continue
				}
				if errors.Is(err, ErrNotHeld) {
					lost = true
					log.Warn("Lock lost during renewal", "key", h.Key)
					return
				}
				if ctx.Err() != nil {
					return
				}
				log.Warn("Lock renewal failed, will retry", "key", h.Key, "error", err)
			}
		}
	}()

	return func() bool {
		cancel()
		<-done
		return lost
	}
}
