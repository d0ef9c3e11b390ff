package handler

import (
	"net/http"

	"appointments/internal/reminders/service"
	httputil "appointments/pkg/http"
	"appointments/pkg/logger"

	"github.com/julienschmidt/httprouter"
)

type ReminderHandler struct {
	service service.ReminderService
	log     *logger.Logger
}

func NewReminderHandler(service service.ReminderService, log *logger.Logger) *ReminderHandler {
	return &ReminderHandler{
		service: service,
		log:     log,
	}
}

// Stats returns the pending backlog and the summary of the last sweep.
func (h *ReminderHandler) Stats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Stats", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, stats); err != nil {
		h.log.Error("failed to write success response", "handler", "Stats", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ReminderHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/reminders/stats", h.Stats)
}
