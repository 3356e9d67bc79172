package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/tajine/internal/httpserver"
	"github.com/wisbric/tajine/pkg/fieldset"
	"github.com/wisbric/tajine/pkg/placecache"
	"github.com/wisbric/tajine/pkg/placekey"
)

// Handler exposes the provider gateway over HTTP.
type Handler struct {
	logger *slog.Logger
	svc    *Service
}

// NewHandler creates a gateway Handler.
func NewHandler(logger *slog.Logger, svc *Service) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// Routes returns a chi.Router with place endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/search", h.handleSearch)
	r.Post("/autocomplete", h.handleAutocomplete)
	r.Get("/{placeKey}", h.handleDetails)
	return r
}

// searchRequest is the POST /places/search body.
type searchRequest struct {
	Query       string                          `json:"query" validate:"required,min=1,max=200"`
	City        string                          `json:"city,omitempty" validate:"omitempty,max=80"`
	Language    string                          `json:"language,omitempty" validate:"omitempty,len=2"`
	Bias        *placecache.LocationBias        `json:"locationBias,omitempty"`
	Restriction *placecache.LocationRestriction `json:"locationRestriction,omitempty"`
	IDOnly      bool                            `json:"idOnly,omitempty"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := httpserver.DecodeAndValidate(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	res := h.svc.ProviderRequest(r.Context(), Params{
		FieldSet:                       fieldset.TextSearch,
		EndpointClass:                  "text_search",
		Query:                          req.Query,
		City:                           req.City,
		Language:                       req.Language,
		Bias:                           req.Bias,
		Restriction:                    req.Restriction,
		AllowIDOnlySearchCacheResponse: req.IDOnly,
	})
	respondResult(w, res)
}

// autocompleteRequest is the POST /places/autocomplete body.
type autocompleteRequest struct {
	Input        string                   `json:"input" validate:"required,min=2,max=100"`
	Language     string                   `json:"language,omitempty" validate:"omitempty,len=2"`
	SessionToken string                   `json:"sessionToken,omitempty" validate:"omitempty,max=128"`
	Types        []string                 `json:"types,omitempty" validate:"omitempty,max=8"`
	Bias         *placecache.LocationBias `json:"locationBias,omitempty"`
}

func (h *Handler) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	var req autocompleteRequest
	if err := httpserver.DecodeAndValidate(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	res := h.svc.ProviderRequest(r.Context(), Params{
		FieldSet:      fieldset.Autocomplete,
		EndpointClass: "autocomplete",
		Input:         req.Input,
		Language:      req.Language,
		SessionToken:  req.SessionToken,
		IncludedTypes: req.Types,
		Bias:          req.Bias,
	})
	respondResult(w, res)
}

func (h *Handler) handleDetails(w http.ResponseWriter, r *http.Request) {
	key, err := placekey.Parse(chi.URLParam(r, "placeKey"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid place key")
		return
	}
	if key.Scheme() != placekey.SchemeProvider {
		// Curated places are served by the editorial collaborator, not the
		// provider gateway.
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "place key is not provider-backed")
		return
	}

	fs := fieldset.PlaceDetailsStandard
	if r.URL.Query().Get("photos") == "true" {
		fs = fieldset.PlaceDetailsWithPhotos
	}

	res := h.svc.ProviderRequest(r.Context(), Params{
		FieldSet:      fs,
		EndpointClass: "place_details",
		PlaceID:       key.ID(),
		Language:      r.URL.Query().Get("language"),
		SessionToken:  r.Header.Get("X-Session-Token"),
	})
	respondResult(w, res)
}

// respondResult maps a ProviderResult onto an HTTP response. Refused and
// failed calls keep their typed code in the envelope with a matching status.
func respondResult(w http.ResponseWriter, res ProviderResult) {
	if res.Success {
		httpserver.Respond(w, http.StatusOK, res)
		return
	}
	httpserver.Respond(w, statusForCode(res.Error.Code), res)
}

// statusForCode picks the HTTP status for a gateway error code.
func statusForCode(code string) int {
	switch code {
	case CodeInvalidFieldSet, CodeInvalidEndpointClass, CodeMissingParameter,
		CodeInvalidParameter, "INVALID_REQUEST":
		return http.StatusBadRequest
	case CodeEndpointNotImplemented:
		return http.StatusNotImplemented
	case "NOT_FOUND":
		return http.StatusNotFound
	case "UNAUTHORIZED":
		return http.StatusUnauthorized
	case "FORBIDDEN":
		return http.StatusForbidden
	case CodeLoadShed, "RATE_LIMITED":
		return http.StatusTooManyRequests
	case CodeCircuitOpen, "SERVICE_UNAVAILABLE":
		return http.StatusServiceUnavailable
	case CodeBudgetExceeded:
		return http.StatusPaymentRequired
	case CodeTimeout, "GATEWAY_TIMEOUT":
		return http.StatusGatewayTimeout
	case "BAD_GATEWAY", CodeNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
