package gateway

import (
	"encoding/json"

	"github.com/wisbric/tajine/pkg/endpoint"
	"github.com/wisbric/tajine/pkg/placecache"
)

// Refused-path and transport error codes. Evaluated provider statuses map
// through the redact package.
const (
	CodeInvalidFieldSet        = "INVALID_FIELD_SET"
	CodeInvalidEndpointClass   = "INVALID_ENDPOINT_CLASS"
	CodeEndpointNotImplemented = "ENDPOINT_NOT_IMPLEMENTED"
	CodeMissingParameter       = "MISSING_PARAMETER"
	CodeInvalidParameter       = "INVALID_PARAMETER"
	CodeLoadShed               = "LOAD_SHED"
	CodeCircuitOpen            = "CIRCUIT_OPEN"
	CodeBudgetExceeded         = "BUDGET_EXCEEDED"
	CodeConfigError            = "CONFIG_ERROR"
	CodeTimeout                = "TIMEOUT"
	CodeNetworkError           = "NETWORK_ERROR"
)

// Params is the single input to ProviderRequest.
type Params struct {
	FieldSet      string `json:"fieldSet"`
	EndpointClass string `json:"endpointClass"`

	// PlaceID is required for place_details.
	PlaceID string `json:"placeId,omitempty"`
	// Query is required for text_search.
	Query string `json:"query,omitempty"`
	// Input is required for autocomplete (minimum 2 characters).
	Input string `json:"input,omitempty"`

	City          string                           `json:"city,omitempty"`
	Language      string                           `json:"language,omitempty"`
	RegionCode    string                           `json:"regionCode,omitempty"`
	SessionToken  string                           `json:"sessionToken,omitempty"`
	Bias          *placecache.LocationBias         `json:"locationBias,omitempty"`
	Restriction   *placecache.LocationRestriction  `json:"locationRestriction,omitempty"`
	IncludedTypes []string                         `json:"includedTypes,omitempty"`

	// Priority overrides the endpoint class's default load-shedding
	// priority when set to 1..4.
	Priority int `json:"priority,omitempty"`

	// SkipBudgetCheck bypasses the budget gate; honoured for HEALTH_CHECK
	// only.
	SkipBudgetCheck bool `json:"skipBudgetCheck,omitempty"`

	// AllowIDOnlySearchCacheResponse lets a text_search return the cached
	// ID-only shape instead of refetching full fields. UI callers must not
	// set this.
	AllowIDOnlySearchCacheResponse bool `json:"allowIdOnlySearchCacheResponse,omitempty"`
}

// ProviderError is the typed error carried by a failed ProviderResult.
type ProviderError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *ProviderError) Error() string {
	return e.Code + ": " + e.Message
}

// Metadata is per-call bookkeeping. Coalesced passengers share data and
// error but keep their own RequestID and LatencyMs.
type Metadata struct {
	RequestID     string         `json:"requestId"`
	LatencyMs     int64          `json:"latencyMs"`
	CostClass     string         `json:"costClass"`
	FieldSet      string         `json:"fieldSet"`
	EndpointClass endpoint.Class `json:"endpointClass"`
	CacheHit      bool           `json:"cacheHit"`
}

// ProviderResult is the gateway's only response shape.
type ProviderResult struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    *ProviderError  `json:"error,omitempty"`
	Metadata Metadata        `json:"metadata"`
}

// CostClassNone marks responses served without touching the provider.
const CostClassNone = "none"

// implementedClasses are the endpoint classes the gateway can execute.
var implementedClasses = map[endpoint.Class]bool{
	endpoint.PlaceDetails: true,
	endpoint.TextSearch:   true,
	endpoint.Autocomplete: true,
}

// coalescableClasses are idempotent-safe and share in-flight outcomes.
var coalescableClasses = map[endpoint.Class]bool{
	endpoint.PlaceDetails: true,
	endpoint.TextSearch:   true,
	endpoint.Autocomplete: true,
}
