package handler

import (
	"errors"
	"net/http"

	"appointments/internal/jobs"
	apperrors "appointments/pkg/errors"
	httputil "appointments/pkg/http"
	"appointments/pkg/logger"

	"github.com/julienschmidt/httprouter"
)

type JobsHandler struct {
	registry *jobs.Registry
	runner   *jobs.Runner
	log      *logger.Logger
}

func NewJobsHandler(registry *jobs.Registry, runner *jobs.Runner, log *logger.Logger) *JobsHandler {
	return &JobsHandler{
		registry: registry,
		runner:   runner,
		log:      log,
	}
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := httputil.WriteSuccess(w, h.registry.Snapshot()); err != nil {
		h.log.Error("failed to write success response", "handler", "List", "operation", "WriteSuccess", "error", err)
	}
}

// Run triggers one sweep of the named job on this instance. The job lock
// still applies, so a run already in progress elsewhere yields 409.
func (h *JobsHandler) Run(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")

	summary, err := h.runner.RunNow(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrUnknownJob):
			err = apperrors.NotFoundWithID("Job", name)
		case errors.Is(err, jobs.ErrJobSkipped):
			err = apperrors.ResourceBusy("Job", name)
		case errors.Is(err, jobs.ErrRunnerStopped):
			err = apperrors.Unavailable("job runner")
		default:
			err = apperrors.Internal("Job run failed", err)
		}
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Run", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, summary); err != nil {
		h.log.Error("failed to write success response", "handler", "Run", "operation", "WriteSuccess", "error", err)
	}
}

func (h *JobsHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/jobs", h.List)
	router.POST("/api/v1/jobs/:name/run", h.Run)
}
