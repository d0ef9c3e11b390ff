package handler

import (
	"net/http"
	"time"

	"appointments/internal/slots/service"
	apperrors "appointments/pkg/errors"
	httputil "appointments/pkg/http"
	"appointments/pkg/logger"
	"appointments/pkg/model"

	"github.com/julienschmidt/httprouter"
)

const defaultAvailabilityRange = 14 * 24 * time.Hour

type SlotHandler struct {
	service service.SlotService
	log     *logger.Logger
}

func NewSlotHandler(service service.SlotService, log *logger.Logger) *SlotHandler {
	return &SlotHandler{
		service: service,
		log:     log,
	}
}

func (h *SlotHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req model.CreateSlotsRequest
	if err := httputil.DecodeJSON(r, &req, false); err != nil {
		h.writeError(w, "Create", err)
		return
	}

	slots, err := h.service.CreateSlots(r.Context(), &req)
	if err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, slots); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *SlotHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	slot, err := h.service.Get(r.Context(), ps.ByName("id"))
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, slot); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

// Available lists open slots of one consultant. The range defaults to the
// next two weeks.
func (h *SlotHandler) Available(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	consultantID := r.URL.Query().Get("consultant_id")
	if consultantID == "" {
		h.writeError(w, "Available", apperrors.InvalidInput("'consultant_id' query parameter is required"))
		return
	}

	now := time.Now().UTC()
	from, err := httputil.ParseTimeParam(r, "from", now)
	if err != nil {
		h.writeError(w, "Available", err)
		return
	}
	to, err := httputil.ParseTimeParam(r, "to", from.Add(defaultAvailabilityRange))
	if err != nil {
		h.writeError(w, "Available", err)
		return
	}
	if !to.After(from) {
		h.writeError(w, "Available", apperrors.InvalidInput("'to' must be after 'from'"))
		return
	}

	limit, offset, err := httputil.ExtractLimitOffset(r)
	if err != nil {
		h.writeError(w, "Available", err)
		return
	}

	slots, total, err := h.service.ListAvailable(r.Context(), consultantID, from, to, limit, offset)
	if err != nil {
		h.writeError(w, "Available", err)
		return
	}

	if err := httputil.WritePaginated(w, slots, total, limit, offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "Available", "operation", "WritePaginated", "error", err)
	}
}

func (h *SlotHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *SlotHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/slots", h.Create)
	router.GET("/api/v1/slots/id/:id", h.GetByID)
	router.GET("/api/v1/slots/available", h.Available)
}
