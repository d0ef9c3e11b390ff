package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"appointments/pkg/logger"
	"appointments/pkg/model"

	"github.com/robfig/cron/v3"
)

var (
	ErrUnknownJob    = errors.New("unknown job")
	ErrRunnerStopped = errors.New("job runner stopped")
)

// Runner triggers locked jobs on cron schedules and on demand. Stop first
// halts new ticks, then cancels the context of in-flight runs and waits for
// them to return.
type Runner struct {
	cron    *cron.Cron
	timeout time.Duration
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]*LockedJob
	wg      sync.WaitGroup
	stopped bool
}

// NewRunner builds a runner whose runs are bounded by timeout, normally the
// job lock TTL.
func NewRunner(timeout time.Duration, log *logger.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Runner{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		timeout: timeout,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*LockedJob),
	}
}

// Schedule registers job under a standard five-field cron spec (descriptors
// such as "@every 1m" are accepted too).
func (r *Runner) Schedule(spec string, job *LockedJob) error {
	if _, err := r.cron.AddFunc(spec, func() { _, _ = r.run(context.Background(), job) }); err != nil {
		return fmt.Errorf("schedule %s with %q: %w", job.Name(), spec, err)
	}

	r.mu.Lock()
	r.jobs[job.Name()] = job
	r.mu.Unlock()

	r.log.Info("Job scheduled", "job", job.Name(), "schedule", spec)
	return nil
}

func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info("Job runner started", "jobs", len(r.jobs))
}

// RunNow runs a scheduled job immediately on the calling goroutine.
func (r *Runner) RunNow(ctx context.Context, name string) (model.SweepSummary, error) {
	r.mu.Lock()
	job, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return model.SweepSummary{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.run(ctx, job)
}

func (r *Runner) run(caller context.Context, job *LockedJob) (model.SweepSummary, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return model.SweepSummary{}, ErrRunnerStopped
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	stop := context.AfterFunc(caller, cancel)
	defer stop()

	summary, err := job.Run(ctx)
	if errors.Is(err, ErrJobSkipped) {
		r.log.Debug("Job tick skipped", "job", job.Name())
	}
	return summary, err
}

// Stop halts the schedule and drains in-flight runs. It returns ctx.Err() if
// the runs do not finish before ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	r.log.Info("Stopping job runner")
	cronDone := r.cron.Stop()
	r.cancel()

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		<-cronDone.Done()
		close(drained)
	}()

	select {
	case <-drained:
		r.log.Info("Job runner stopped")
		return nil
	case <-ctx.Done():
		r.log.Warn("Job runner stop timed out with runs in flight")
		return ctx.Err()
	}
}

type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
