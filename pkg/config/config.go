package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"appointments/pkg/client"
	kafka_config "appointments/pkg/kafka/config"
	"appointments/pkg/logger"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	MongoURI          string
	MongoDatabaseName string
	MongoConnTimeout  time.Duration

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisDialTimeout time.Duration

	Port       string
	InstanceID string

	RateLimitRequests     int
	UserRateLimitRequests int
	RateLimitWindow       time.Duration

	RequestTimeout time.Duration
	IdempotencyTTL time.Duration
	MaxRequestSize int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	SlotLockTTL       time.Duration
	BookingLockTTL    time.Duration
	ConsultantLockTTL time.Duration
	JobLockTTL        time.Duration

	HoldWindow time.Duration
	CacheTTL   time.Duration

	ReminderOffsets     []time.Duration
	ReminderMaxAttempts int
	ReminderClaimTTL    time.Duration
	ReminderBatchSize   int
	ReminderConcurrency int

	NotifierKind       string
	NotifierWebhookURL string
	NotifierRate       float64
	NotifierBurst      int

	JobsEnabled      bool
	ExpirySchedule   string
	ExpiryBatchSize  int
	ReminderSchedule string

	BookingEventsTopic string
	JobRunsTopic       string
	ReminderTopic      string
	EventsDLQTopic     string

	Kafka *kafka_config.Config

	Log    *logger.Logger
	Client *client.Client
}

// Load reads .env (when present), an optional config.yaml and the environment,
// validates the result and exits on invalid configuration.
func Load(serviceName string) *Config {
	log := logger.New(logger.Config{
		Level:     envOr(EnvLogLevel, DefaultLogLevel),
		Format:    envOr(EnvLogFormat, DefaultLogFormat),
		AddSource: true,
		Service:   serviceName,
	})

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load .env file", "error", err)
	}

	v := NewViper()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatal("Failed to read config file", "error", err)
		}
	}

	cfg, err := FromViper(v)
	if err != nil {
		log.Fatal(err.Error())
	}
	cfg.Log = log
	cfg.Client = client.NewClient()

	if err := cfg.Validate(); err != nil {
		cfg.Log.Fatal(err.Error())
	}
	cfg.LogConfiguration()
	return cfg
}

// NewViper returns a viper instance bound to the environment with every default registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	v.SetDefault(EnvMongoURI, DefaultMongoURI)
	v.SetDefault(EnvMongoDatabaseName, DefaultMongoDatabaseName)
	v.SetDefault(EnvMongoConnTimeout, DefaultMongoConnTimeout)

	v.SetDefault(EnvRedisAddr, DefaultRedisAddr)
	v.SetDefault(EnvRedisPassword, "")
	v.SetDefault(EnvRedisDB, DefaultRedisDB)
	v.SetDefault(EnvRedisDialTimeout, DefaultRedisDialTimeout)

	v.SetDefault(EnvPort, DefaultPort)
	v.SetDefault(EnvInstanceID, "")

	v.SetDefault(EnvRateLimitRequests, DefaultRateLimitRequests)
	v.SetDefault(EnvUserRateLimitRequests, DefaultUserRateLimitRequests)
	v.SetDefault(EnvRateLimitWindow, DefaultRateLimitWindow)

	v.SetDefault(EnvRequestTimeout, DefaultRequestTimeout)
	v.SetDefault(EnvIdempotencyTTL, DefaultIdempotencyTTL)
	v.SetDefault(EnvMaxRequestSize, DefaultMaxRequestSize)

	v.SetDefault(EnvReadTimeout, DefaultReadTimeout)
	v.SetDefault(EnvWriteTimeout, DefaultWriteTimeout)
	v.SetDefault(EnvIdleTimeout, DefaultIdleTimeout)
	v.SetDefault(EnvShutdownTimeout, DefaultShutdownTimeout)

	v.SetDefault(EnvSlotLockTTL, DefaultSlotLockTTL)
	v.SetDefault(EnvBookingLockTTL, DefaultBookingLockTTL)
	v.SetDefault(EnvConsultantLockTTL, DefaultConsultantLockTTL)
	v.SetDefault(EnvJobLockTTL, DefaultJobLockTTL)

	v.SetDefault(EnvHoldWindow, DefaultHoldWindow)
	v.SetDefault(EnvCacheTTL, DefaultCacheTTL)

	v.SetDefault(EnvReminderOffsets, DefaultReminderOffsets)
	v.SetDefault(EnvReminderMaxAttempts, DefaultReminderMaxAttempts)
	v.SetDefault(EnvReminderClaimTTL, DefaultReminderClaimTTL)
	v.SetDefault(EnvReminderBatchSize, DefaultReminderBatchSize)
	v.SetDefault(EnvReminderConcurrency, DefaultReminderConcurrency)

	v.SetDefault(EnvNotifierKind, DefaultNotifierKind)
	v.SetDefault(EnvNotifierWebhookURL, "")
	v.SetDefault(EnvNotifierRate, DefaultNotifierRate)
	v.SetDefault(EnvNotifierBurst, DefaultNotifierBurst)

	v.SetDefault(EnvJobsEnabled, DefaultJobsEnabled)
	v.SetDefault(EnvExpirySchedule, DefaultExpirySchedule)
	v.SetDefault(EnvExpiryBatchSize, DefaultExpiryBatchSize)
	v.SetDefault(EnvReminderSchedule, DefaultReminderSchedule)

	v.SetDefault(EnvBookingEventsTopic, DefaultBookingEventsTopic)
	v.SetDefault(EnvJobRunsTopic, DefaultJobRunsTopic)
	v.SetDefault(EnvReminderTopic, DefaultReminderTopic)
	v.SetDefault(EnvEventsDLQTopic, DefaultEventsDLQTopic)

	kafka_config.SetDefaults(v)
	return v
}

// FromViper builds a Config from v without validating it. Log and Client are left nil.
func FromViper(v *viper.Viper) (*Config, error) {
	offsets, err := ParseOffsets(v.GetString(EnvReminderOffsets))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvReminderOffsets, err)
	}

	instanceID := v.GetString(EnvInstanceID)
	if instanceID == "" {
		instanceID = defaultInstanceID()
	}

	return &Config{
		MongoURI:          v.GetString(EnvMongoURI),
		MongoDatabaseName: v.GetString(EnvMongoDatabaseName),
		MongoConnTimeout:  v.GetDuration(EnvMongoConnTimeout),

		RedisAddr:        v.GetString(EnvRedisAddr),
		RedisPassword:    v.GetString(EnvRedisPassword),
		RedisDB:          v.GetInt(EnvRedisDB),
		RedisDialTimeout: v.GetDuration(EnvRedisDialTimeout),

		Port:       v.GetString(EnvPort),
		InstanceID: instanceID,

		RateLimitRequests:     v.GetInt(EnvRateLimitRequests),
		UserRateLimitRequests: v.GetInt(EnvUserRateLimitRequests),
		RateLimitWindow:       v.GetDuration(EnvRateLimitWindow),

		RequestTimeout: v.GetDuration(EnvRequestTimeout),
		IdempotencyTTL: v.GetDuration(EnvIdempotencyTTL),
		MaxRequestSize: v.GetInt(EnvMaxRequestSize),

		ReadTimeout:     v.GetDuration(EnvReadTimeout),
		WriteTimeout:    v.GetDuration(EnvWriteTimeout),
		IdleTimeout:     v.GetDuration(EnvIdleTimeout),
		ShutdownTimeout: v.GetDuration(EnvShutdownTimeout),

		SlotLockTTL:       v.GetDuration(EnvSlotLockTTL),
		BookingLockTTL:    v.GetDuration(EnvBookingLockTTL),
		ConsultantLockTTL: v.GetDuration(EnvConsultantLockTTL),
		JobLockTTL:        v.GetDuration(EnvJobLockTTL),

		HoldWindow: v.GetDuration(EnvHoldWindow),
		CacheTTL:   v.GetDuration(EnvCacheTTL),

		ReminderOffsets:     offsets,
		ReminderMaxAttempts: v.GetInt(EnvReminderMaxAttempts),
		ReminderClaimTTL:    v.GetDuration(EnvReminderClaimTTL),
		ReminderBatchSize:   v.GetInt(EnvReminderBatchSize),
		ReminderConcurrency: v.GetInt(EnvReminderConcurrency),

		NotifierKind:       v.GetString(EnvNotifierKind),
		NotifierWebhookURL: v.GetString(EnvNotifierWebhookURL),
		NotifierRate:       v.GetFloat64(EnvNotifierRate),
		NotifierBurst:      v.GetInt(EnvNotifierBurst),

		JobsEnabled:      v.GetBool(EnvJobsEnabled),
		ExpirySchedule:   v.GetString(EnvExpirySchedule),
		ExpiryBatchSize:  v.GetInt(EnvExpiryBatchSize),
		ReminderSchedule: v.GetString(EnvReminderSchedule),

		BookingEventsTopic: v.GetString(EnvBookingEventsTopic),
		JobRunsTopic:       v.GetString(EnvJobRunsTopic),
		ReminderTopic:      v.GetString(EnvReminderTopic),
		EventsDLQTopic:     v.GetString(EnvEventsDLQTopic),

		Kafka: kafka_config.FromViper(v),
	}, nil
}

func (cfg *Config) SetMongo() {
	cfg.Client.SetMongo(cfg.Log, cfg.MongoURI, cfg.MongoConnTimeout)
}

func (cfg *Config) SetRedis() {
	cfg.Client.SetRedis(cfg.Log, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisDialTimeout)
}

func (cfg *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("Port must be between 1 and 65535, got: %s", cfg.Port))
	}

	if cfg.MongoURI == "" {
		errors = append(errors, "MongoURI cannot be empty")
	} else if len(cfg.MongoURI) < 10 || !regexp.MustCompile(`^mongodb(\+srv)?://`).MatchString(cfg.MongoURI) {
		errors = append(errors, fmt.Sprintf("MongoURI must start with 'mongodb://' or 'mongodb+srv://', got: %s", redactMongoURI(cfg.MongoURI)))
	}
	if cfg.MongoDatabaseName == "" {
		errors = append(errors, "MongoDatabaseName cannot be empty")
	}
	if cfg.RedisAddr == "" {
		errors = append(errors, "RedisAddr cannot be empty")
	}
	if cfg.RedisDB < 0 {
		errors = append(errors, fmt.Sprintf("RedisDB cannot be negative, got: %d", cfg.RedisDB))
	}

	positiveDurations := []struct {
		name  string
		value time.Duration
	}{
		{"MongoConnTimeout", cfg.MongoConnTimeout},
		{"RedisDialTimeout", cfg.RedisDialTimeout},
		{"RateLimitWindow", cfg.RateLimitWindow},
		{"RequestTimeout", cfg.RequestTimeout},
		{"IdempotencyTTL", cfg.IdempotencyTTL},
		{"ReadTimeout", cfg.ReadTimeout},
		{"WriteTimeout", cfg.WriteTimeout},
		{"IdleTimeout", cfg.IdleTimeout},
		{"ShutdownTimeout", cfg.ShutdownTimeout},
		{"SlotLockTTL", cfg.SlotLockTTL},
		{"BookingLockTTL", cfg.BookingLockTTL},
		{"ConsultantLockTTL", cfg.ConsultantLockTTL},
		{"JobLockTTL", cfg.JobLockTTL},
		{"HoldWindow", cfg.HoldWindow},
		{"CacheTTL", cfg.CacheTTL},
		{"ReminderClaimTTL", cfg.ReminderClaimTTL},
	}
	for _, d := range positiveDurations {
		if d.value <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive, got: %s", d.name, d.value))
		}
	}

	positiveInts := []struct {
		name  string
		value int
	}{
		{"RateLimitRequests", cfg.RateLimitRequests},
		{"UserRateLimitRequests", cfg.UserRateLimitRequests},
		{"MaxRequestSize", cfg.MaxRequestSize},
		{"ReminderMaxAttempts", cfg.ReminderMaxAttempts},
		{"ReminderBatchSize", cfg.ReminderBatchSize},
		{"ReminderConcurrency", cfg.ReminderConcurrency},
		{"ExpiryBatchSize", cfg.ExpiryBatchSize},
		{"NotifierBurst", cfg.NotifierBurst},
	}
	for _, n := range positiveInts {
		if n.value <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive, got: %d", n.name, n.value))
		}
	}

	if len(cfg.ReminderOffsets) == 0 {
		errors = append(errors, "ReminderOffsets must contain at least one offset")
	}
	if cfg.NotifierRate <= 0 {
		errors = append(errors, fmt.Sprintf("NotifierRate must be positive, got: %v", cfg.NotifierRate))
	}
	switch cfg.NotifierKind {
	case NotifierKafka:
	case NotifierWebhook:
		if cfg.NotifierWebhookURL == "" {
			errors = append(errors, "NotifierWebhookURL is required when NotifierKind is webhook")
		}
	default:
		errors = append(errors, fmt.Sprintf("NotifierKind must be one of [kafka, webhook], got: %s", cfg.NotifierKind))
	}
	if cfg.JobsEnabled && (cfg.ExpirySchedule == "" || cfg.ReminderSchedule == "") {
		errors = append(errors, "ExpirySchedule and ReminderSchedule are required when jobs are enabled")
	}
	if cfg.BookingEventsTopic == "" || cfg.JobRunsTopic == "" || cfg.ReminderTopic == "" {
		errors = append(errors, "Kafka topics for booking events, job runs and reminders cannot be empty")
	}
	if cfg.Kafka != nil {
		if err := cfg.Kafka.Validate(); err != nil {
			errors = append(errors, strings.TrimSpace(err.Error()))
		}
	}

	if len(errors) > 0 {
		errMsg := "Configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}

	return nil
}

func (cfg *Config) LogConfiguration() {
	cfg.Log.Info("Configuration loaded successfully",
		"mongo_uri", redactMongoURI(cfg.MongoURI),
		"mongo_database", cfg.MongoDatabaseName,
		"mongo_conn_timeout", cfg.MongoConnTimeout,
		"redis_addr", cfg.RedisAddr,
		"redis_db", cfg.RedisDB,
		"redis_password_set", cfg.RedisPassword != "",
		"port", cfg.Port,
		"instance_id", cfg.InstanceID,
		"rate_limit_requests", cfg.RateLimitRequests,
		"user_rate_limit_requests", cfg.UserRateLimitRequests,
		"rate_limit_window", cfg.RateLimitWindow,
		"request_timeout", cfg.RequestTimeout,
		"idempotency_ttl", cfg.IdempotencyTTL,
		"max_request_size", cfg.MaxRequestSize,
		"shutdown_timeout", cfg.ShutdownTimeout,
		"slot_lock_ttl", cfg.SlotLockTTL,
		"booking_lock_ttl", cfg.BookingLockTTL,
		"consultant_lock_ttl", cfg.ConsultantLockTTL,
		"job_lock_ttl", cfg.JobLockTTL,
		"hold_window", cfg.HoldWindow,
		"cache_ttl", cfg.CacheTTL,
		"reminder_offsets", cfg.ReminderOffsets,
		"reminder_max_attempts", cfg.ReminderMaxAttempts,
		"reminder_claim_ttl", cfg.ReminderClaimTTL,
		"notifier_kind", cfg.NotifierKind,
		"jobs_enabled", cfg.JobsEnabled,
		"expiry_schedule", cfg.ExpirySchedule,
		"reminder_schedule", cfg.ReminderSchedule,
		"booking_events_topic", cfg.BookingEventsTopic,
		"job_runs_topic", cfg.JobRunsTopic,
		"reminder_topic", cfg.ReminderTopic,
	)
	if cfg.Kafka != nil {
		cfg.Kafka.LogConfiguration(cfg.Log.Info)
	}
}

// ParseOffsets parses a comma separated list of durations such as "48h,2h".
func ParseOffsets(raw string) ([]time.Duration, error) {
	var offsets []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("offset must be positive, got %s", part)
		}
		offsets = append(offsets, d)
	}
	return offsets, nil
}

func redactMongoURI(uri string) string {
	credentialRegex := regexp.MustCompile(`(mongodb(\+srv)?://)[^:]+:[^@]+@`)
	return credentialRegex.ReplaceAllString(uri, "${1}***:***@")
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "instance"
	}
	return host + "-" + uuid.NewString()[:8]
}

func (cfg *Config) GracefulShutdown() {
	cfg.Client.GracefulShutdown(cfg.Log)
}

func NormalizePaginationLimit(limit int) int {
	if limit <= 0 {
		limit = 10
	} else if limit > DefaultPaginationLimit {
		limit = DefaultPaginationLimit
	}
	return limit
}

func NormalizeOffset(offset int64) int64 {
	return max(0, offset)
}
