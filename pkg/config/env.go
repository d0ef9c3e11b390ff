package config

const (
	EnvMongoURI          = "MONGO_URI"
	EnvMongoDatabaseName = "MONGO_DATABASE_NAME"
	EnvMongoConnTimeout  = "MONGO_CONN_TIMEOUT"

	EnvRedisAddr        = "REDIS_ADDR"
	EnvRedisPassword    = "REDIS_PASSWORD"
	EnvRedisDB          = "REDIS_DB"
	EnvRedisDialTimeout = "REDIS_DIAL_TIMEOUT"

	EnvPort      = "PORT"
	EnvLogLevel  = "LOG_LEVEL"
	EnvLogFormat = "LOG_FORMAT"

	EnvInstanceID = "INSTANCE_ID"

	EnvRateLimitRequests     = "RATE_LIMIT_REQUESTS"
	EnvUserRateLimitRequests = "USER_RATE_LIMIT_REQUESTS"
	EnvRateLimitWindow       = "RATE_LIMIT_WINDOW"

	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvIdempotencyTTL = "IDEMPOTENCY_TTL"
	EnvMaxRequestSize = "MAX_REQUEST_SIZE"

	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvIdleTimeout     = "IDLE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"

	EnvSlotLockTTL       = "SLOT_LOCK_TTL"
	EnvBookingLockTTL    = "BOOKING_LOCK_TTL"
	EnvConsultantLockTTL = "CONSULTANT_LOCK_TTL"
	EnvJobLockTTL        = "JOB_LOCK_TTL"

	EnvHoldWindow = "BOOKING_HOLD_WINDOW"
	EnvCacheTTL   = "CACHE_TTL"

	EnvReminderOffsets     = "REMINDER_OFFSETS"
	EnvReminderMaxAttempts = "REMINDER_MAX_ATTEMPTS"
	EnvReminderClaimTTL    = "REMINDER_CLAIM_TTL"
	EnvReminderBatchSize   = "REMINDER_BATCH_SIZE"
	EnvReminderConcurrency = "REMINDER_CONCURRENCY"

	EnvNotifierKind       = "NOTIFIER_KIND"
	EnvNotifierWebhookURL = "NOTIFIER_WEBHOOK_URL"
	EnvNotifierRate       = "NOTIFIER_RATE_PER_SECOND"
	EnvNotifierBurst      = "NOTIFIER_BURST"

	EnvJobsEnabled      = "JOBS_ENABLED"
	EnvExpirySchedule   = "EXPIRY_SCHEDULE"
	EnvExpiryBatchSize  = "EXPIRY_BATCH_SIZE"
	EnvReminderSchedule = "REMINDER_SCHEDULE"

	EnvBookingEventsTopic = "KAFKA_BOOKING_EVENTS_TOPIC"
	EnvJobRunsTopic       = "KAFKA_JOB_RUNS_TOPIC"
	EnvReminderTopic      = "KAFKA_REMINDER_TOPIC"
	EnvEventsDLQTopic     = "KAFKA_EVENTS_DLQ_TOPIC"
)
