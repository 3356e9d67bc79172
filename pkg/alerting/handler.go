package alerting

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tajine/internal/httpserver"
)

// Handler exposes alert inspection endpoints.
type Handler struct {
	logger *slog.Logger
	store  *Store
}

// NewHandler creates an alerting Handler.
func NewHandler(logger *slog.Logger, store *Store) *Handler {
	return &Handler{logger: logger, store: store}
}

// Routes returns a chi.Router with alert routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"

	alerts, err := h.store.ListAlerts(r.Context(), limit, unresolvedOnly)
	if err != nil {
		h.logger.Error("listing alerts", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list alerts")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}
