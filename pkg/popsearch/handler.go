package popsearch

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tajine/internal/httpserver"
	"github.com/wisbric/tajine/internal/identity"
)

// Handler exposes the popular-searches endpoints.
type Handler struct {
	logger *slog.Logger
	svc    *Service
}

// NewHandler creates a popsearch Handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// Routes returns a chi.Router with search-history routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/recent", h.handleLog)
	r.Get("/popular", h.handlePopular)
	r.Get("/mine", h.handleMine)
	r.Delete("/mine", h.handleClear)
	return r
}

// logRequest is the POST /searches/recent body.
type logRequest struct {
	Query       string `json:"query" validate:"required,max=500"`
	City        string `json:"city,omitempty" validate:"omitempty,max=80"`
	ResultCount int    `json:"resultCount" validate:"gte=0"`
}

func (h *Handler) handleLog(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if err := httpserver.DecodeAndValidate(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	// Anonymous callers are a silent no-op by contract.
	userID, _ := identity.FromContext(r.Context())
	if err := h.svc.LogRecentSearch(r.Context(), userID, req.Query, req.City, req.ResultCount); err != nil {
		h.logger.Error("logging recent search", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to log search")
		return
	}
	httpserver.Respond(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) handlePopular(w http.ResponseWriter, r *http.Request) {
	searches, err := h.svc.GetPopularSearches(r.Context(), r.URL.Query().Get("city"), queryLimit(r, 10))
	if err != nil {
		h.logger.Error("listing popular searches", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list popular searches")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"searches": searches,
		"count":    len(searches),
	})
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "authentication required")
		return
	}

	searches, err := h.svc.GetMyRecentSearches(r.Context(), userID, queryLimit(r, 10))
	if err != nil {
		h.logger.Error("listing my searches", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list searches")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"searches": searches,
		"count":    len(searches),
	})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "authentication required")
		return
	}

	deleted, err := h.svc.ClearMySearchHistory(r.Context(), userID)
	if err != nil {
		h.logger.Error("clearing search history", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to clear history")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func queryLimit(r *http.Request, def int) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return def
}
