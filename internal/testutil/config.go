// Package testutil provides in-memory repositories, an event recorder and a
// miniredis-backed client for service tests.
package testutil

import (
	"testing"
	"time"

	"appointments/pkg/config"
	"appointments/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// Config returns a configuration with short, deterministic values and a
// silent logger.
func Config() *config.Config {
	return &config.Config{
		InstanceID: "test-instance",

		RateLimitRequests:     5,
		UserRateLimitRequests: 5,
		RateLimitWindow:       time.Minute,

		RequestTimeout: 5 * time.Second,
		IdempotencyTTL: time.Hour,
		MaxRequestSize: 1 << 20,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,

		SlotLockTTL:       30 * time.Second,
		BookingLockTTL:    30 * time.Second,
		ConsultantLockTTL: 30 * time.Second,
		JobLockTTL:        120 * time.Second,

		HoldWindow: 15 * time.Minute,
		CacheTTL:   5 * time.Minute,

		ReminderOffsets:     []time.Duration{48 * time.Hour, 2 * time.Hour},
		ReminderMaxAttempts: 3,
		ReminderClaimTTL:    5 * time.Minute,
		ReminderBatchSize:   100,
		ReminderConcurrency: 4,

		ExpiryBatchSize: 100,

		Log: logger.NewNop(),
	}
}

// NewRedis starts a miniredis server that is torn down with t.
func NewRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}
