package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upb/inference-router/services/router"
	"github.com/upb/inference-router/services/usagelog"
	"github.com/upb/inference-router/utils"
)

// defaultUsageWindow is the reporting period when no since parameter is given
const defaultUsageWindow = 24 * time.Hour

// ModelHandler exposes model status, usage reporting and manual reset
// endpoints
type ModelHandler struct {
	router *router.Router
	usage  *usagelog.Recorder
	logger *zap.Logger
}

// NewModelHandler creates a new ModelHandler. The usage recorder may be nil
// when no database is configured; the usage endpoint then reports
// unavailability.
func NewModelHandler(r *router.Router, usage *usagelog.Recorder, logger *zap.Logger) *ModelHandler {
	return &ModelHandler{
		router: r,
		usage:  usage,
		logger: logger,
	}
}

// HandleStatus handles GET /api/v1/models/status.
// Returns a read-only snapshot of every model for dashboards.
func (h *ModelHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.router.GetModelStatus())
}

// HandleUsage handles GET /api/v1/models/usage.
// Returns per-model aggregates from the usage log, by default over the last
// 24 hours. An optional since query parameter (RFC 3339) moves the window
// start.
func (h *ModelHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		_ = utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse{
			Error:   "unavailable",
			Message: "usage persistence is not configured",
		})
		return
	}

	since := time.Now().UTC().Add(-defaultUsageWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			_ = utils.WriteBadRequest(w, "since must be an RFC 3339 timestamp", nil)
			return
		}
		since = parsed
	}

	totals, err := h.usage.TotalsSince(r.Context(), since)
	if err != nil {
		h.logger.Error("failed to query usage totals", zap.Error(err))
		_ = utils.WriteInternalError(w, "failed to query usage totals")
		return
	}

	if totals == nil {
		totals = []usagelog.ModelTotals{}
	}
	_ = utils.WriteOK(w, map[string]interface{}{
		"since":  since,
		"models": totals,
	})
}

// HandleReset handles POST /api/v1/models/{id}/reset.
// Manual operator override clearing a model's failure and quota state.
func (h *ModelHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		_ = utils.WriteBadRequest(w, "model id is required", nil)
		return
	}

	if !h.router.ResetModel(id) {
		_ = utils.WriteNotFound(w, "unknown model id")
		return
	}

	h.logger.Info("model reset via API", zap.String("model_id", id))
	_ = utils.WriteOK(w, map[string]string{"status": "reset", "model_id": id})
}
