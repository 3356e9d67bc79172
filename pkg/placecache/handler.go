package placecache

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tajine/internal/httpserver"
	"github.com/wisbric/tajine/pkg/geohash"
	"github.com/wisbric/tajine/pkg/placekey"
)

// Handler exposes the tile cache primitives map collaborators consume.
type Handler struct {
	logger *slog.Logger
	tiles  *TileCache
}

// NewHandler creates a tile cache Handler.
func NewHandler(logger *slog.Logger, tiles *TileCache) *Handler {
	return &Handler{logger: logger, tiles: tiles}
}

// Routes returns a chi.Router with tile routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/check", h.handleCheck)
	r.Post("/write", h.handleWrite)
	r.Post("/viewport", h.handleViewport)
	return r
}

// checkRequest probes a set of tiles at one zoom.
type checkRequest struct {
	TileKeys []string `json:"tileKeys" validate:"required,min=1,max=64"`
	Zoom     int      `json:"zoom" validate:"required,gte=1,lte=22"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpserver.DecodeAndValidate(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	result, err := h.tiles.CheckBatch(r.Context(), req.TileKeys, req.Zoom)
	if err != nil {
		h.logger.Error("checking tile cache", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to check tiles")
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

// writeRequest refreshes one tile with place keys.
type writeRequest struct {
	TileKey   string   `json:"tileKey" validate:"required,max=32"`
	Zoom      int      `json:"zoom" validate:"required,gte=1,lte=22"`
	PlaceKeys []string `json:"placeKeys" validate:"max=1000"`
	Provider  string   `json:"provider" validate:"required,max=40"`
}

func (h *Handler) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := httpserver.DecodeAndValidate(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	keys := make([]placekey.Key, 0, len(req.PlaceKeys))
	for _, raw := range req.PlaceKeys {
		k, err := placekey.Parse(raw)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		keys = append(keys, k)
	}

	if err := h.tiles.Write(r.Context(), req.TileKey, req.Zoom, keys, req.Provider); err != nil {
		h.logger.Error("writing tile cache", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to write tile")
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"written": len(keys)})
}

// viewportRequest resolves a map viewport to tiles and probes them.
type viewportRequest struct {
	North float64 `json:"north" validate:"gte=-90,lte=90"`
	South float64 `json:"south" validate:"gte=-90,lte=90"`
	East  float64 `json:"east" validate:"gte=-180,lte=180"`
	West  float64 `json:"west" validate:"gte=-180,lte=180"`
	Zoom  int     `json:"zoom" validate:"required,gte=1,lte=22"`
}

func (h *Handler) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := httpserver.DecodeAndValidate(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	bounds := geohash.Bounds{North: req.North, South: req.South, East: req.East, West: req.West}
	result, err := h.tiles.TilesForViewport(r.Context(), bounds, req.Zoom)
	if err != nil {
		h.logger.Error("resolving viewport tiles", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to resolve viewport")
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}
