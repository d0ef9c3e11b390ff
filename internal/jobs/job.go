// Package jobs runs the periodic sweeps (booking expiry, reminder dispatch)
// behind a cluster-wide job lock.
package jobs

import (
	"context"
	"errors"
	"time"

	"appointments/internal/events"
	"appointments/pkg/keys"
	"appointments/pkg/lock"
	"appointments/pkg/logger"
	"appointments/pkg/metrics"
	"appointments/pkg/model"
)

// ErrJobSkipped is returned when another instance holds the job lock.
var ErrJobSkipped = errors.New("job skipped: lock held by another instance")

// Job is one unit of sweep work. It runs only while the job lock is held.
type Job interface {
	Name() string
	Run(ctx context.Context) (model.SweepSummary, error)
}

// LockedJob wraps a Job with the job lock, lock renewal, registry updates,
// metrics and the job-run event.
type LockedJob struct {
	job       Job
	locker    lock.Locker
	registry  *Registry
	publisher events.Publisher
	ttl       time.Duration
	log       *logger.Logger
	now       func() time.Time
}

func NewLockedJob(job Job, locker lock.Locker, registry *Registry, publisher events.Publisher, ttl time.Duration, log *logger.Logger) *LockedJob {
	registry.Register(job.Name())
	return &LockedJob{
		job:       job,
		locker:    locker,
		registry:  registry,
		publisher: publisher,
		ttl:       ttl,
		log:       log.With("job", job.Name()),
		now:       time.Now,
	}
}

func (j *LockedJob) Name() string {
	return j.job.Name()
}

// Run executes one sweep. A denied lock is not an error for the caller's
// purposes: ErrJobSkipped is returned and the registry shows the job as
// skipped. The lock is released on every exit path.
func (j *LockedJob) Run(ctx context.Context) (summary model.SweepSummary, err error) {
	name := j.job.Name()
	started := j.now()

	h, err := lock.Obtain(ctx, j.locker, keys.JobLock(name), j.ttl)
	if err != nil {
		if errors.Is(err, lock.ErrStoreUnavailable) {
			j.log.Error("Job lock store unavailable", "error", err)
			j.registry.MarkFailed(name, err, j.now())
			metrics.JobRuns.WithLabelValues(name, string(model.JobFailed)).Inc()
			return summary, err
		}
		j.log.Info("Job already running elsewhere, skipping")
		j.registry.MarkSkipped(name, j.now())
		metrics.JobRuns.WithLabelValues(name, string(model.JobSkipped)).Inc()
		return summary, ErrJobSkipped
	}

	stopRenewal := lock.KeepAlive(ctx, h, j.log)
	defer func() {
		if lost := stopRenewal(); lost {
			j.log.Warn("Job lock was lost mid-run")
		}
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := h.Release(releaseCtx); relErr != nil && !errors.Is(relErr, lock.ErrNotHeld) {
			j.log.Warn("Failed to release job lock", "error", relErr)
		}
	}()

	j.registry.MarkRunning(name, started)
	j.log.Debug("Job started")

	summary, err = j.job.Run(ctx)

	finished := j.now()
	duration := finished.Sub(started)
	status := model.JobCompleted
	if err != nil {
		status = model.JobFailed
		j.registry.MarkFailed(name, err, finished)
		j.log.Error("Job failed", "error", err, "processed", summary.Processed, "duration", duration)
	} else {
		j.registry.MarkCompleted(name, summary, finished)
		j.log.Info("Job completed",
			"processed", summary.Processed,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
			"duration", duration,
		)
	}

	metrics.JobRuns.WithLabelValues(name, string(status)).Inc()
	metrics.JobDuration.WithLabelValues(name).Observe(duration.Seconds())
	metrics.JobItems.WithLabelValues(name, "succeeded").Add(float64(summary.Succeeded))
	metrics.JobItems.WithLabelValues(name, "failed").Add(float64(summary.Failed))
	metrics.JobItems.WithLabelValues(name, "skipped").Add(float64(summary.Skipped))

	event := model.JobRunEvent{
		EventType:  model.EventJobCompleted,
		JobName:    name,
		Status:     status,
		Processed:  summary.Processed,
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		Skipped:    summary.Skipped,
		DurationMs: duration.Milliseconds(),
		Timestamp:  finished.UTC(),
	}
	if pubErr := j.publisher.PublishJobRun(context.WithoutCancel(ctx), event); pubErr != nil {
		j.log.Warn("Failed to publish job run event", "error", pubErr)
	}

	return summary, err
}
