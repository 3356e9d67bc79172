package servicemode

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tajine/internal/httpserver"
)

// Handler exposes service-mode inspection and manual override endpoints.
type Handler struct {
	logger     *slog.Logger
	store      *Store
	controller *Controller
}

// NewHandler creates a service-mode Handler.
func NewHandler(logger *slog.Logger, store *Store, controller *Controller) *Handler {
	return &Handler{logger: logger, store: store, controller: controller}
}

// Routes returns a chi.Router with service-mode routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleGet)
	r.Post("/", h.handleSet)
	r.Get("/history", h.handleHistory)
	return r
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context())
	if err != nil {
		h.logger.Error("getting service mode", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to get service mode")
		return
	}
	httpserver.Respond(w, http.StatusOK, rec)
}

// setModeRequest is the manual override body.
type setModeRequest struct {
	Mode   *int   `json:"mode" validate:"required"`
	Reason string `json:"reason" validate:"required,min=3,max=200"`
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := httpserver.DecodeAndValidate(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := h.controller.SetServiceMode(r.Context(), *req.Mode, req.Reason); err != nil {
		if _, perr := ParseMode(*req.Mode); perr != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "INVALID_INPUT", perr.Error())
			return
		}
		h.logger.Error("setting service mode", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to set service mode")
		return
	}

	rec, err := h.store.Get(r.Context())
	if err != nil {
		h.logger.Error("re-reading service mode", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to read service mode")
		return
	}
	httpserver.Respond(w, http.StatusOK, rec)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	entries, err := h.store.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("listing service mode history", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list history")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"history": entries,
		"count":   len(entries),
	})
}
