package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stebofarm/gateway/internal/model"
	"github.com/stebofarm/gateway/internal/registry"
)

// Registrar issues unique keys to frontends. *registry.Registry implements it.
type Registrar interface {
	Register(ctx context.Context, name string) (*model.Frontend, error)
}

// FrontendHandler handles frontend registration.
type FrontendHandler struct {
	registry Registrar
	logger   *slog.Logger
}

// NewFrontendHandler creates a new FrontendHandler.
func NewFrontendHandler(reg Registrar, logger *slog.Logger) *FrontendHandler {
	return &FrontendHandler{
		registry: reg,
		logger:   logger,
	}
}

// Register handles POST /admin/frontends. The unique key is returned in this
// response only.
func (h *FrontendHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.FrontendRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	frontend, err := h.registry.Register(r.Context(), req.Name)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrDuplicateName):
			writeError(w, http.StatusConflict, "DUPLICATE_NAME", "Frontend name already registered")
		case errors.Is(err, model.ErrFrontendNameRequired):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Frontend name is required")
		case errors.Is(err, model.ErrFrontendNameTooLong):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Frontend name is too long")
		default:
			h.logger.Error("internal_error", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
		}
		return
	}

	h.logger.Info("frontend_registered",
		"frontend_id", frontend.ID,
		"name", frontend.Name,
	)

	writeJSON(w, http.StatusCreated, frontend.ToRegisterResponse())
}
