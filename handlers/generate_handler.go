package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/inference-router/services/router"
	"github.com/upb/inference-router/utils"
)

// GenerateRequest is the payload for POST /api/v1/generate
type GenerateRequest struct {
	Prompt           string `json:"prompt" validate:"required,max=32768"`
	PreferredModelID string `json:"preferred_model_id,omitempty"`
	PageContext      string `json:"page_context,omitempty" validate:"max=64"`
	Locale           string `json:"locale,omitempty" validate:"max=16"`
}

// GenerateHandler handles inference requests
type GenerateHandler struct {
	router *router.Router
	logger *zap.Logger
}

// NewGenerateHandler creates a new GenerateHandler
func NewGenerateHandler(r *router.Router, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		router: r,
		logger: logger,
	}
}

// HandleGenerate handles POST /api/v1/generate.
// The router guarantees a response; an error status here only means the
// request payload itself was unusable.
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "invalid JSON body", nil)
		return
	}

	if err := utils.ValidateStruct(req); err != nil {
		var validationErr *utils.ValidationError
		if errors.As(err, &validationErr) {
			_ = utils.WriteBadRequest(w, validationErr.Message, validationErr.FieldDetails())
			return
		}
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	resp := h.router.GenerateResponse(r.Context(), router.Request{
		Prompt:           req.Prompt,
		PreferredModelID: req.PreferredModelID,
		PageContext:      req.PageContext,
		Locale:           req.Locale,
	})

	_ = utils.WriteOK(w, resp)
}
