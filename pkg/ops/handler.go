// Package ops exposes the control-plane monitoring endpoints: load state,
// budget usage, and feature flags.
package ops

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tajine/internal/httpserver"
	"github.com/wisbric/tajine/pkg/budget"
	"github.com/wisbric/tajine/pkg/flags"
	"github.com/wisbric/tajine/pkg/loadshed"
)

// Handler serves the ops endpoints.
type Handler struct {
	logger  *slog.Logger
	shedder *loadshed.Shedder
	budget  *budget.Enforcer
	flags   *flags.Store
}

// NewHandler creates an ops Handler.
func NewHandler(logger *slog.Logger, shedder *loadshed.Shedder, bud *budget.Enforcer, fl *flags.Store) *Handler {
	return &Handler{logger: logger, shedder: shedder, budget: bud, flags: fl}
}

// Routes returns a chi.Router with ops routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/load", h.handleLoad)
	r.Get("/budgets", h.handleBudgets)
	r.Get("/flags", h.handleFlags)
	return r
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	state, err := h.shedder.GetLoadState(r.Context())
	if err != nil {
		h.logger.Error("reading load state", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to read load state")
		return
	}
	httpserver.Respond(w, http.StatusOK, state)
}

func (h *Handler) handleBudgets(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.budget.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("reading budgets", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to read budgets")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"budgets": statuses})
}

func (h *Handler) handleFlags(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.flags.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("reading flags", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to read flags")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"flags": snapshot})
}
