// Package gateway is the sole path to the external places provider. It wires
// the field-set registry, caches, singleflight, load shedder, circuit
// breaker, and budget enforcer around every outbound call and never lets
// provider content into logs or error messages.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/wisbric/tajine/internal/telemetry"
	"github.com/wisbric/tajine/pkg/breaker"
	"github.com/wisbric/tajine/pkg/budget"
	"github.com/wisbric/tajine/pkg/endpoint"
	"github.com/wisbric/tajine/pkg/fieldset"
	"github.com/wisbric/tajine/pkg/flags"
	"github.com/wisbric/tajine/pkg/loadshed"
	"github.com/wisbric/tajine/pkg/metricstore"
	"github.com/wisbric/tajine/pkg/placecache"
	"github.com/wisbric/tajine/pkg/placekey"
	"github.com/wisbric/tajine/pkg/redact"
)

// ProviderName tags cache rows and health records for the places provider.
const ProviderName = "google_places"

// SearchCache is the slice of the search cache the gateway uses.
type SearchCache interface {
	Lookup(ctx context.Context, cacheKey string) (placecache.SearchLookup, error)
	Write(ctx context.Context, cacheKey string, keys []placekey.Key, provider string) error
}

// MetricSink receives the gateway's domain metric events.
type MetricSink interface {
	Emit(e metricstore.Event)
}

// Service orchestrates provider access.
type Service struct {
	logger  *slog.Logger
	client  *Client
	apiKey  string
	shedder *loadshed.Shedder
	breaker *breaker.Breaker
	budget  *budget.Enforcer
	flags   *flags.Store
	cache   SearchCache
	metrics MetricSink
	sf      singleflight.Group
}

// NewService creates the gateway Service. apiKey comes from the process
// environment; an empty key surfaces as CONFIG_ERROR at call time so the
// rest of the API can still boot.
func NewService(
	logger *slog.Logger,
	client *Client,
	apiKey string,
	shedder *loadshed.Shedder,
	br *breaker.Breaker,
	bud *budget.Enforcer,
	fl *flags.Store,
	cache SearchCache,
	metrics MetricSink,
) *Service {
	return &Service{
		logger:  logger,
		client:  client,
		apiKey:  apiKey,
		shedder: shedder,
		breaker: br,
		budget:  bud,
		flags:   fl,
		cache:   cache,
		metrics: metrics,
	}
}

// callOutcome is the payload shared between singleflight passengers.
type callOutcome struct {
	data      json.RawMessage
	err       *ProviderError
	costClass string
}

// idOnlyPlace is the response entry shape for cached ID-only search results.
type idOnlyPlace struct {
	PlaceKey placekey.Key `json:"placeKey"`
}

// ProviderRequest validates, gates, and executes one provider call.
func (s *Service) ProviderRequest(ctx context.Context, p Params) ProviderResult {
	requestID := uuid.New().String()
	start := time.Now()

	meta := Metadata{RequestID: requestID, FieldSet: p.FieldSet}

	// 1. Validation — refusals return without charging latency.
	fs, err := fieldset.Get(p.FieldSet)
	if err != nil {
		return s.refused(meta, CodeInvalidFieldSet, err.Error())
	}
	class, err := endpoint.Parse(p.EndpointClass)
	if err != nil {
		return s.refused(meta, CodeInvalidEndpointClass, err.Error())
	}
	meta.EndpointClass = class
	if !implementedClasses[class] {
		return s.refused(meta, CodeEndpointNotImplemented, fmt.Sprintf("endpoint class %s is not implemented", class))
	}
	if perr := validateParams(class, p); perr != nil {
		return s.refused(meta, perr.Code, perr.Message)
	}

	// 2. Defaults.
	if p.Language == "" {
		p.Language = "en"
	}
	if p.RegionCode == "" {
		p.RegionCode = "MA"
	}

	// Downgrade enhanced details while the flag is off (budget mitigation).
	if p.FieldSet == fieldset.PlaceDetailsWithPhotos && !s.flags.IsEnabled(ctx, flags.PlaceDetailsEnhanced) {
		p.FieldSet = fieldset.PlaceDetailsStandard
		fs, _ = fieldset.Get(p.FieldSet)
		meta.FieldSet = p.FieldSet
	}

	// 3. Search cache probe.
	var cacheKey string
	if class == endpoint.TextSearch {
		cacheKey = placecache.BuildSearchCacheKey(placecache.SearchKeyParams{
			Query:       p.Query,
			City:        p.City,
			Language:    p.Language,
			Bias:        p.Bias,
			Restriction: p.Restriction,
		})
		lookup, err := s.cache.Lookup(ctx, cacheKey)
		if err != nil {
			s.logger.Warn("search cache lookup failed", "error", err)
		}
		if lookup.Hit {
			s.emitCacheProbe(class, true)
			if p.AllowIDOnlySearchCacheResponse {
				meta.CacheHit = true
				meta.CostClass = CostClassNone
				meta.LatencyMs = time.Since(start).Milliseconds()
				return s.finish(ProviderResult{
					Success:  true,
					Data:     idOnlyData(lookup.PlaceKeys),
					Metadata: meta,
				}, class)
			}
			// UI flows need full fields; fall through to the provider.
		} else {
			s.emitCacheProbe(class, false)
		}
	}

	// 4. Priority and singleflight.
	priority := class.Priority()
	if p.Priority >= 1 && p.Priority <= 4 {
		priority = p.Priority
	}

	exec := func() (any, error) {
		return s.execute(ctx, fs, class, p, cacheKey, priority), nil
	}

	var out *callOutcome
	if key := coalesceKey(class, p, cacheKey, priority); key != "" && coalescableClasses[class] {
		v, _, _ := s.sf.Do(key, exec)
		out = v.(*callOutcome)
	} else {
		v, _ := exec()
		out = v.(*callOutcome)
	}

	meta.CostClass = out.costClass
	meta.LatencyMs = time.Since(start).Milliseconds()

	return s.finish(ProviderResult{
		Success:  out.err == nil,
		Data:     out.data,
		Error:    out.err,
		Metadata: meta,
	}, class)
}

// execute runs the gated core of one call: shed gate, breaker gate, budget
// gate, outbound call, bookkeeping. It always returns a callOutcome.
func (s *Service) execute(ctx context.Context, fs fieldset.FieldSet, class endpoint.Class, p Params, cacheKey string, priority int) *callOutcome {
	// (a) Load shedder.
	release, err := s.shedder.Acquire(ctx, priority)
	if err != nil {
		var shed loadshed.ShedError
		if errors.As(err, &shed) {
			if s.metrics != nil {
				s.metrics.Emit(metricstore.Event{
					Name:  metricstore.NameRequestShed,
					Value: 1,
					Tags:  metricstore.Tags{Endpoint: string(class), Priority: strconv.Itoa(priority)},
				})
			}
			return failure(CodeLoadShed, fmt.Sprintf("request shed (%s)", shed.Reason), true)
		}
		return failure(redact.CodeInternalError, redact.Redact(err.Error()), false)
	}
	// The decrement must run on every exit path, including panics in the
	// outbound stack.
	defer release()

	// (b) Circuit breaker pre-gate. Inspecting the state performs the
	// open → half-open transition once the open timeout has elapsed, so an
	// open reject here never swallows the probe.
	if state, _ := s.breaker.State(); state == "open" {
		return failure(CodeCircuitOpen, "provider circuit is open", true)
	}

	// (c) Budget gate, bypassable for health probes only.
	if !(p.SkipBudgetCheck && p.FieldSet == fieldset.HealthCheck) {
		st, err := s.budget.Check(ctx, class)
		if err != nil {
			s.logger.Warn("budget check failed, proceeding", "class", class, "error", err)
		} else if !st.Allowed {
			return failure(CodeBudgetExceeded,
				fmt.Sprintf("daily budget exhausted for %s (%.1f%%)", class, st.UsagePercent), false)
		}
	}

	// (d) API key.
	if s.apiKey == "" {
		return failure(CodeConfigError, "provider API key is not configured", false)
	}

	// Outbound call under the breaker. fn only returns an error for
	// provider-facing failures (transport, 5xx, 429) so plain 4xx responses
	// never trip the circuit.
	type evaluated struct {
		status int
		body   []byte
	}
	v, err := s.breaker.Execute(ctx, func() (any, error) {
		status, body, err := s.client.Do(ctx, s.apiKey, fs, class, p)
		if err != nil {
			return nil, err
		}
		ev := evaluated{status: status, body: body}
		if status == 429 || status >= 500 {
			return ev, fmt.Errorf("provider returned status %d", status)
		}
		return ev, nil
	})

	// Budget usage is recorded fire-and-forget for every attempt that got
	// past the gates, using the field set's declared ceiling.
	if !breaker.ErrOpen(err) {
		go func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if rerr := s.budget.Record(rctx, class, fs.MaxCostMillicents); rerr != nil {
				s.logger.Warn("recording budget usage", "class", class, "error", rerr)
			}
		}()
	}

	if breaker.ErrOpen(err) {
		return failure(CodeCircuitOpen, "provider circuit is open", true)
	}

	if err != nil {
		if ev, ok := v.(evaluated); ok {
			// Evaluated provider failure (5xx or 429).
			return failure(redact.StatusToCode(ev.status),
				fmt.Sprintf("provider returned status %d", ev.status),
				redact.IsRetryable(ev.status))
		}
		// Transport failure.
		if errors.Is(err, context.DeadlineExceeded) {
			return failure(CodeTimeout, "provider call timed out", true)
		}
		return failure(CodeNetworkError, redact.Redact(err.Error()), true)
	}

	ev := v.(evaluated)
	if ev.status < 200 || ev.status >= 300 {
		// Non-retryable 4xx family.
		return failure(redact.StatusToCode(ev.status),
			fmt.Sprintf("provider returned status %d", ev.status),
			redact.IsRetryable(ev.status))
	}

	// Text-search success feeds the ID-only cache asynchronously; a cache
	// write failure must never fail the response.
	if class == endpoint.TextSearch && cacheKey != "" {
		if ids := extractPlaceIDs(ev.body); len(ids) > 0 {
			keys := make([]placekey.Key, len(ids))
			for i, id := range ids {
				keys[i] = placekey.FromProviderID(id)
			}
			go func() {
				wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if werr := s.cache.Write(wctx, cacheKey, keys, ProviderName); werr != nil {
					s.logger.Warn("search cache write failed", "error", werr)
				}
			}()
		}
	}

	return &callOutcome{data: ev.body, costClass: string(fs.Tier)}
}

// refused builds a pre-gate rejection with zero latency charged.
func (s *Service) refused(meta Metadata, code, message string) ProviderResult {
	res := ProviderResult{
		Error:    &ProviderError{Code: code, Message: redact.Redact(message), Retryable: false},
		Metadata: meta,
	}
	return s.finish(res, meta.EndpointClass)
}

// finish emits the per-call metric and prometheus counters.
func (s *Service) finish(res ProviderResult, class endpoint.Class) ProviderResult {
	outcome := "success"
	name := metricstore.NameAPISuccess
	tags := metricstore.Tags{
		Endpoint: string(class),
		CostTier: res.Metadata.CostClass,
		CacheHit: strconv.FormatBool(res.Metadata.CacheHit),
	}
	if !res.Success {
		outcome = "error"
		name = metricstore.NameAPIError
		if res.Error != nil {
			tags.ErrorCode = res.Error.Code
		}
	}
	if s.metrics != nil {
		s.metrics.Emit(metricstore.Event{Name: name, Value: float64(res.Metadata.LatencyMs), Tags: tags})
		if res.Success && class == endpoint.TextSearch {
			s.metrics.Emit(metricstore.Event{
				Name:  metricstore.NameSearchLatency,
				Value: float64(res.Metadata.LatencyMs),
				Tags:  metricstore.Tags{Endpoint: string(class)},
			})
		}
	}

	telemetry.ProviderRequestsTotal.WithLabelValues(string(class), outcome).Inc()
	telemetry.ProviderRequestDuration.WithLabelValues(string(class)).
		Observe(float64(res.Metadata.LatencyMs) / 1000)
	return res
}

// emitCacheProbe records a search cache probe outcome.
func (s *Service) emitCacheProbe(class endpoint.Class, hit bool) {
	name := metricstore.NameCacheMiss
	result := "miss"
	if hit {
		name = metricstore.NameCacheHit
		result = "hit"
	}
	if s.metrics != nil {
		s.metrics.Emit(metricstore.Event{Name: name, Value: 1, Tags: metricstore.Tags{Endpoint: string(class)}})
	}
	telemetry.CacheLookupsTotal.WithLabelValues("search", result).Inc()
}

// validateParams enforces the per-class required parameters.
func validateParams(class endpoint.Class, p Params) *ProviderError {
	switch class {
	case endpoint.PlaceDetails:
		if p.PlaceID == "" {
			return &ProviderError{Code: CodeMissingParameter, Message: "placeId is required for place_details"}
		}
	case endpoint.TextSearch:
		if p.Query == "" {
			return &ProviderError{Code: CodeMissingParameter, Message: "query is required for text_search"}
		}
	case endpoint.Autocomplete:
		if p.Input == "" {
			return &ProviderError{Code: CodeMissingParameter, Message: "input is required for autocomplete"}
		}
		if len(p.Input) < 2 {
			return &ProviderError{Code: CodeInvalidParameter, Message: "autocomplete input must be at least 2 characters"}
		}
	}
	return nil
}

// idOnlyData builds the cached ID-only response body.
func idOnlyData(keys []placekey.Key) json.RawMessage {
	places := make([]idOnlyPlace, len(keys))
	for i, k := range keys {
		places[i] = idOnlyPlace{PlaceKey: k}
	}
	raw, _ := json.Marshal(struct {
		Places       []idOnlyPlace `json:"places"`
		CachedResult bool          `json:"cachedResult"`
	}{Places: places, CachedResult: true})
	return raw
}

// failure builds a redacted callOutcome error.
func failure(code, message string, retryable bool) *callOutcome {
	return &callOutcome{err: &ProviderError{
		Code:      code,
		Message:   redact.Redact(message),
		Retryable: retryable,
	}}
}
