package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "appointments"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultRedisAddr        = "localhost:6379"
	DefaultRedisDB          = 0
	DefaultRedisDialTimeout = 5 * time.Second

	DefaultPort      = "8080"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultRateLimitRequests     = 5
	DefaultUserRateLimitRequests = 5
	DefaultRateLimitWindow       = 1 * time.Minute

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 1 * 1024 * 1024 // 1MB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultSlotLockTTL       = 30 * time.Second
	DefaultBookingLockTTL    = 30 * time.Second
	DefaultConsultantLockTTL = 30 * time.Second
	DefaultJobLockTTL        = 120 * time.Second

	DefaultHoldWindow = 15 * time.Minute
	DefaultCacheTTL   = 5 * time.Minute

	DefaultReminderOffsets     = "48h,2h"
	DefaultReminderMaxAttempts = 3
	DefaultReminderClaimTTL    = 5 * time.Minute
	DefaultReminderBatchSize   = 200
	DefaultReminderConcurrency = 4

	DefaultNotifierKind  = NotifierKafka
	DefaultNotifierRate  = 20.0
	DefaultNotifierBurst = 5

	DefaultJobsEnabled      = true
	DefaultExpirySchedule   = "@every 1m"
	DefaultExpiryBatchSize  = 100
	DefaultReminderSchedule = "@every 1m"

	DefaultBookingEventsTopic = "appointments.booking-events"
	DefaultJobRunsTopic       = "appointments.job-runs"
	DefaultReminderTopic      = "appointments.reminders"
	DefaultEventsDLQTopic     = ""

	DefaultPaginationLimit = 100
)

const (
	NotifierKafka   = "kafka"
	NotifierWebhook = "webhook"
)
