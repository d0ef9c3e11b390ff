package main

import (
	"context"

	bookingshandler "appointments/internal/bookings/handler"
	bookingsrepo "appointments/internal/bookings/repository"
	bookingsservice "appointments/internal/bookings/service"
	"appointments/internal/events"
	"appointments/internal/jobs"
	jobshandler "appointments/internal/jobs/handler"
	remindershandler "appointments/internal/reminders/handler"
	"appointments/internal/reminders/notifier"
	remindersrepo "appointments/internal/reminders/repository"
	remindersservice "appointments/internal/reminders/service"
	slotshandler "appointments/internal/slots/handler"
	slotsrepo "appointments/internal/slots/repository"
	slotsservice "appointments/internal/slots/service"
	"appointments/pkg/app"
	"appointments/pkg/cache"
	"appointments/pkg/client"
	"appointments/pkg/config"
	"appointments/pkg/kafka"
	kafkamiddleware "appointments/pkg/kafka/middleware"
	"appointments/pkg/lock"
	"appointments/pkg/validator"
)

const ServiceName = "bookings"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()
	cfg.SetRedis()

	cfg.Log.Info("Starting Bookings service", "instance_id", cfg.InstanceID)

	producer, err := kafka.NewProducer(cfg.Kafka, cfg.EventsDLQTopic, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
	}
	producer.Use(kafkamiddleware.LoggingProducerMiddleware(cfg.Log))
	producer.Use(kafkamiddleware.MetricsProducerMiddleware())

	publisher := events.NewKafkaPublisher(producer, events.Topics{
		BookingEvents: cfg.BookingEventsTopic,
		JobRuns:       cfg.JobRunsTopic,
	}, ServiceName)

	locker := lock.NewRedisLocker(cfg.Client.Redis, cfg.Log)
	store := cache.NewRedisStore(cfg.Client.Redis)
	v := validator.New(cfg.Log)

	slotService := slotsservice.NewSlotService(slotsrepo.NewMongoSlotRepository(cfg), locker, store, v, cfg)
	reminderService := remindersservice.NewReminderService(
		remindersrepo.NewMongoReminderRepository(cfg),
		initNotifier(cfg, producer),
		publisher,
		store,
		cfg,
	)
	bookingService := bookingsservice.NewBookingService(
		bookingsrepo.NewMongoBookingRepository(cfg),
		slotService,
		reminderService,
		locker,
		store,
		publisher,
		v,
		cfg,
	)

	registry := jobs.NewRegistry()
	runner := jobs.NewRunner(cfg.JobLockTTL, cfg.Log)
	expiryJob := jobs.NewLockedJob(jobs.NewExpiryJob(bookingService, cfg.ExpiryBatchSize, cfg.Log), locker, registry, publisher, cfg.JobLockTTL, cfg.Log)
	reminderJob := jobs.NewLockedJob(jobs.NewReminderDispatchJob(reminderService), locker, registry, publisher, cfg.JobLockTTL, cfg.Log)
	if err := runner.Schedule(cfg.ExpirySchedule, expiryJob); err != nil {
		cfg.Log.Fatal("Invalid expiry schedule", "error", err)
	}
	if err := runner.Schedule(cfg.ReminderSchedule, reminderJob); err != nil {
		cfg.Log.Fatal("Invalid reminder schedule", "error", err)
	}
	orphanJob := jobs.NewLockedJob(jobs.NewOrphanHoldJob(slotService, bookingService, cfg.HoldWindow, cfg.ExpiryBatchSize, cfg.Log), locker, registry, publisher, cfg.JobLockTTL, cfg.Log)
	if err := runner.Schedule(cfg.ExpirySchedule, orphanJob); err != nil {
		cfg.Log.Fatal("Invalid orphaned hold schedule", "error", err)
	}

	serverApp := app.NewApplication(cfg)
	serverApp.SetApp(
		bookingshandler.NewBookingHandler(bookingService, cfg.Log),
		slotshandler.NewSlotHandler(slotService, cfg.Log),
		remindershandler.NewReminderHandler(reminderService, cfg.Log),
		jobshandler.NewJobsHandler(registry, runner, cfg.Log),
	)
	if cfg.JobsEnabled {
		serverApp.AddWorker(runner)
	} else {
		cfg.Log.Info("Scheduled jobs disabled on this instance; manual runs remain available")
	}
	serverApp.OnShutdown(func(context.Context) error { return producer.Close() })
	serverApp.Run()
}

func initNotifier(cfg *config.Config, producer *kafka.Producer) notifier.Notifier {
	var n notifier.Notifier
	switch cfg.NotifierKind {
	case config.NotifierWebhook:
		n = notifier.NewWebhookNotifier(client.NewHttpClient(cfg.NotifierWebhookURL, cfg.RequestTimeout), "")
	default:
		n = notifier.NewKafkaNotifier(producer, cfg.ReminderTopic, ServiceName)
	}

	cfg.Log.Info("Reminder notifier initialized", "kind", cfg.NotifierKind, "rate", cfg.NotifierRate)
	if cfg.NotifierRate > 0 {
		return notifier.NewThrottled(n, cfg.NotifierRate, cfg.NotifierBurst)
	}
	return n
}
