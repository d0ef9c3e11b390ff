package jobs

import (
	"sort"
	"sync"
	"time"

	"appointments/pkg/model"
)

// Registry tracks the latest run of every job on this instance. It is
// injected into job runners instead of living in package state.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*model.JobRun
}

func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*model.JobRun)}
}

func (r *Registry) entry(name string) *model.JobRun {
	run, ok := r.runs[name]
	if !ok {
		run = &model.JobRun{JobName: name, Status: model.JobIdle}
		r.runs[name] = run
	}
	return run
}

// Register makes a job visible as idle before its first run.
func (r *Registry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry(name)
}

func (r *Registry) MarkRunning(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.entry(name)
	run.Status = model.JobRunning
	run.StartedAt = &at
	run.FinishedAt = nil
	run.LastError = ""
	run.Runs++
}

func (r *Registry) MarkCompleted(name string, summary model.SweepSummary, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.entry(name)
	run.Status = model.JobCompleted
	run.FinishedAt = &at
	run.Processed = summary.Processed
	run.Succeeded = summary.Succeeded
	run.Failed = summary.Failed
	run.Skipped = summary.Skipped
}

func (r *Registry) MarkFailed(name string, err error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.entry(name)
	run.Status = model.JobFailed
	run.FinishedAt = &at
	if err != nil {
		run.LastError = err.Error()
	}
}

// MarkSkipped records a tick that found the job lock held elsewhere. The
// counters of the previous run are kept.
func (r *Registry) MarkSkipped(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := r.entry(name)
	run.Status = model.JobSkipped
	run.FinishedAt = &at
}

func (r *Registry) Get(name string) (model.JobRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[name]
	if !ok {
		return model.JobRun{}, false
	}
	return *run, true
}

// Snapshot returns a copy of every entry ordered by job name.
func (r *Registry) Snapshot() []model.JobRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.JobRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobName < out[j].JobName })
	return out
}
