package kafka_middleware

import (
	"context"
	"time"

	"appointments/pkg/kafka"
	"appointments/pkg/metrics"
)

// MetricsProducerMiddleware records publish outcomes and latency per topic.
func MetricsProducerMiddleware() kafka.ProducerMiddleware {
	return func(ctx context.Context, msg kafka.Message, next func(ctx context.Context, msg kafka.Message) error) error {
		start := time.Now()

		err := next(ctx, msg)

		metrics.KafkaPublishDuration.WithLabelValues(msg.Topic).Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = kafka.ClassifyError(err).String()
		}
		metrics.KafkaPublished.WithLabelValues(msg.Topic, result).Inc()

		return err
	}
}
