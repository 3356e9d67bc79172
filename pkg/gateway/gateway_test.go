package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/tajine/pkg/breaker"
	"github.com/wisbric/tajine/pkg/budget"
	"github.com/wisbric/tajine/pkg/endpoint"
	"github.com/wisbric/tajine/pkg/fieldset"
	"github.com/wisbric/tajine/pkg/flags"
	"github.com/wisbric/tajine/pkg/loadshed"
	"github.com/wisbric/tajine/pkg/metricstore"
	"github.com/wisbric/tajine/pkg/placecache"
	"github.com/wisbric/tajine/pkg/placekey"
)

// stubCache records writes and serves a fixed lookup.
type stubCache struct {
	mu     sync.Mutex
	lookup placecache.SearchLookup
	writes map[string][]placekey.Key
}

func newStubCache() *stubCache {
	return &stubCache{writes: make(map[string][]placekey.Key)}
}

func (c *stubCache) Lookup(_ context.Context, _ string) (placecache.SearchLookup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup, nil
}

func (c *stubCache) Write(_ context.Context, cacheKey string, keys []placekey.Key, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes[cacheKey] = keys
	return nil
}

func (c *stubCache) writtenKeys(cacheKey string) []placekey.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[cacheKey]
}

// stubSink collects emitted metric events.
type stubSink struct {
	mu     sync.Mutex
	events []metricstore.Event
}

func (s *stubSink) Emit(e metricstore.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

type testEnv struct {
	svc    *Service
	cache  *stubCache
	sink   *stubSink
	flags  *flags.Store
	budget *budget.Enforcer
	calls  *atomic.Int64
}

// newTestEnv builds a Service against the given provider handler.
func newTestEnv(t *testing.T, handler http.HandlerFunc, limits map[endpoint.Class]int64, apiKey string) *testEnv {
	t.Helper()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	logger := slog.Default()
	fl := flags.NewStore(rdb, logger)
	bud := budget.NewEnforcer(rdb, limits, fl, logger, nil)
	shed := loadshed.NewShedder(rdb, logger, 0, nil)
	br := breaker.New(ProviderName, breaker.Config{}, nil, logger, nil)
	cache := newStubCache()
	sink := &stubSink{}
	client := NewClient(srv.Client(), srv.URL, 2*time.Second)

	svc := NewService(logger, client, apiKey, shed, br, bud, fl, cache, sink)
	return &testEnv{svc: svc, cache: cache, sink: sink, flags: fl, budget: bud, calls: &calls}
}

func okSearchHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"places":[{"name":"places/ChIJaaa"},{"id":"ChIJbbb"}]}`))
}

func okDetailsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"id":"ChIJABC"}`))
}

func TestInvalidFieldSetRefused(t *testing.T) {
	env := newTestEnv(t, okDetailsHandler, nil, "key")
	res := env.svc.ProviderRequest(context.Background(), Params{
		FieldSet: "NOT_A_MASK", EndpointClass: "place_details", PlaceID: "x",
	})
	if res.Success {
		t.Fatal("expected refusal")
	}
	if res.Error.Code != CodeInvalidFieldSet {
		t.Errorf("code = %q, want %q", res.Error.Code, CodeInvalidFieldSet)
	}
	if env.calls.Load() != 0 {
		t.Error("refused call must not reach the provider")
	}
}

func TestInvalidEndpointClassRefused(t *testing.T) {
	env := newTestEnv(t, okDetailsHandler, nil, "key")
	res := env.svc.ProviderRequest(context.Background(), Params{
		FieldSet: fieldset.TextSearch, EndpointClass: "reviews",
	})
	if res.Error == nil || res.Error.Code != CodeInvalidEndpointClass {
		t.Errorf("error = %+v, want %s", res.Error, CodeInvalidEndpointClass)
	}
}

func TestUnimplementedEndpointRefused(t *testing.T) {
	env := newTestEnv(t, okDetailsHandler, nil, "key")
	res := env.svc.ProviderRequest(context.Background(), Params{
		FieldSet: fieldset.PlaceDetailsWithPhotos, EndpointClass: "photos",
	})
	if res.Error == nil || res.Error.Code != CodeEndpointNotImplemented {
		t.Errorf("error = %+v, want %s", res.Error, CodeEndpointNotImplemented)
	}
}

func TestMissingParameters(t *testing.T) {
	env := newTestEnv(t, okDetailsHandler, nil, "key")
	ctx := context.Background()

	res := env.svc.ProviderRequest(ctx, Params{FieldSet: fieldset.PlaceDetailsStandard, EndpointClass: "place_details"})
	if res.Error == nil || res.Error.Code != CodeMissingParameter {
		t.Errorf("details without placeId: error = %+v", res.Error)
	}

	res = env.svc.ProviderRequest(ctx, Params{FieldSet: fieldset.TextSearch, EndpointClass: "text_search"})
	if res.Error == nil || res.Error.Code != CodeMissingParameter {
		t.Errorf("text_search without query: error = %+v", res.Error)
	}

	res = env.svc.ProviderRequest(ctx, Params{FieldSet: fieldset.Autocomplete, EndpointClass: "autocomplete", Input: "t"})
	if res.Error == nil || res.Error.Code != CodeInvalidParameter {
		t.Errorf("1-char autocomplete input: error = %+v", res.Error)
	}
}

func TestMissingAPIKeyIsConfigError(t *testing.T) {
	env := newTestEnv(t, okDetailsHandler, nil, "")
	res := env.svc.ProviderRequest(context.Background(), Params{
		FieldSet: fieldset.PlaceDetailsStandard, EndpointClass: "place_details", PlaceID: "ChIJABC",
	})
	if res.Error == nil || res.Error.Code != CodeConfigError {
		t.Errorf("error = %+v, want %s", res.Error, CodeConfigError)
	}
	if env.calls.Load() != 0 {
		t.Error("config error must not reach the provider")
	}
}

func TestTextSearchSuccessWritesCache(t *testing.T) {
	env := newTestEnv(t, okSearchHandler, nil, "key")
	res := env.svc.ProviderRequest(context.Background(), Params{
		FieldSet:      fieldset.TextSearch,
		EndpointClass: "text_search",
		Query:         "tagine",
		Bias:          &placecache.LocationBias{Lat: 31.6295, Lng: -7.9811, RadiusMeters: 5000},
	})
	if !res.Success {
		t.Fatalf("result = %+v", res.Error)
	}
	if res.Metadata.CostClass != string(fieldset.TierAdvanced) {
		t.Errorf("costClass = %q, want %q", res.Metadata.CostClass, fieldset.TierAdvanced)
	}

	wantKey := "q:tagine|l:en|lb:31.63,-7.981,5000"
	var keys []placekey.Key
	for i := 0; i < 50; i++ {
		if keys = env.cache.writtenKeys(wantKey); keys != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(keys) != 2 {
		t.Fatalf("cache write for %q = %v, want 2 keys", wantKey, keys)
	}
	if keys[0] != "g:ChIJaaa" || keys[1] != "g:ChIJbbb" {
		t.Errorf("cached keys = %v", keys)
	}
}

func TestCachedIDOnlyResponse(t *testing.T) {
	env := newTestEnv(t, okSearchHandler, nil, "key")
	env.cache.lookup = placecache.SearchLookup{
		Hit:       true,
		PlaceKeys: []placekey.Key{"g:ChIJaaa", "g:ChIJbbb"},
	}

	res := env.svc.ProviderRequest(context.Background(), Params{
		FieldSet:                       fieldset.TextSearch,
		EndpointClass:                  "text_search",
		Query:                          "tagine",
		AllowIDOnlySearchCacheResponse: true,
	})
	if !res.Success {
		t.Fatalf("result = %+v", res.Error)
	}
	if !res.Metadata.CacheHit {
		t.Error("metadata.cacheHit = false, want true")
	}
	if res.Metadata.CostClass != CostClassNone {
		t.Errorf("costClass = %q, want %q", res.Metadata.CostClass, CostClassNone)
	}
	if env.calls.Load() != 0 {
		t.Error("cached response must not reach the provider")
	}

	var data struct {
		Places       []idOnlyPlace `json:"places"`
		CachedResult bool          `json:"cachedResult"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
	if !data.CachedResult || len(data.Places) != 2 {
		t.Errorf("data = %+v", data)
	}
}

func TestCacheHitWithoutFlagStillFetches(t *testing.T) {
	env := newTestEnv(t, okSearchHandler, nil, "key")
	env.cache.lookup = placecache.SearchLookup{Hit: true, PlaceKeys: []placekey.Key{"g:ChIJaaa"}}

	res := env.svc.ProviderRequest(context.Background(), Params{
		FieldSet: fieldset.TextSearch, EndpointClass: "text_search", Query: "tagine",
	})
	if !res.Success {
		t.Fatalf("result = %+v", res.Error)
	}
	if env.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1 (UI flows need full fields)", env.calls.Load())
	}
	if res.Metadata.CacheHit {
		t.Error("full-fetch path should not claim a cache hit")
	}
}

func TestSingleflightCoalescesConcurrentCalls(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		okDetailsHandler(w, r)
	}, nil, "key")

	params := Params{
		FieldSet: fieldset.PlaceDetailsStandard, EndpointClass: "place_details",
		PlaceID: "ChIJABC", Language: "fr",
	}

	const n = 3
	results := make([]ProviderResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.svc.ProviderRequest(context.Background(), params)
		}(i)
	}
	wg.Wait()

	if got := env.calls.Load(); got != 1 {
		t.Errorf("outbound calls = %d, want 1", got)
	}
	ids := map[string]bool{}
	for i, res := range results {
		if !res.Success {
			t.Fatalf("result %d = %+v", i, res.Error)
		}
		if string(res.Data) != string(results[0].Data) {
			t.Error("passengers must share the owner's data")
		}
		ids[res.Metadata.RequestID] = true
	}
	if len(ids) != n {
		t.Errorf("request IDs = %d distinct, want %d", len(ids), n)
	}
}

func TestBreakerTripsAfterFiveServerErrors(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, nil, "key")
	ctx := context.Background()

	params := Params{FieldSet: fieldset.PlaceDetailsStandard, EndpointClass: "place_details", PlaceID: "ChIJABC"}
	for i := 0; i < 5; i++ {
		res := env.svc.ProviderRequest(ctx, params)
		if res.Error == nil || res.Error.Code != "SERVICE_UNAVAILABLE" {
			t.Fatalf("call %d error = %+v", i, res.Error)
		}
		if !res.Error.Retryable {
			t.Fatalf("503 should be retryable")
		}
	}
	if env.calls.Load() != 5 {
		t.Fatalf("outbound calls = %d, want 5", env.calls.Load())
	}

	res := env.svc.ProviderRequest(ctx, params)
	if res.Error == nil || res.Error.Code != CodeCircuitOpen {
		t.Fatalf("6th call error = %+v, want %s", res.Error, CodeCircuitOpen)
	}
	if !res.Error.Retryable {
		t.Error("CIRCUIT_OPEN must be retryable")
	}
	if env.calls.Load() != 5 {
		t.Errorf("open circuit must not produce outbound calls, got %d", env.calls.Load())
	}
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, nil, "key")
	ctx := context.Background()

	params := Params{FieldSet: fieldset.PlaceDetailsStandard, EndpointClass: "place_details", PlaceID: "ChIJnope"}
	for i := 0; i < 8; i++ {
		res := env.svc.ProviderRequest(ctx, params)
		if res.Error == nil || res.Error.Code != "NOT_FOUND" {
			t.Fatalf("call %d error = %+v, want NOT_FOUND", i, res.Error)
		}
		if res.Error.Retryable {
			t.Fatal("404 must not be retryable")
		}
	}
	if env.calls.Load() != 8 {
		t.Errorf("all 404 calls should reach the provider, got %d", env.calls.Load())
	}
}

func TestBudgetExceededBlocks(t *testing.T) {
	limits := map[endpoint.Class]int64{endpoint.PlaceDetails: 100}
	env := newTestEnv(t, okDetailsHandler, limits, "key")
	ctx := context.Background()

	if err := env.budget.Record(ctx, endpoint.PlaceDetails, 100); err != nil {
		t.Fatalf("Record error = %v", err)
	}

	res := env.svc.ProviderRequest(ctx, Params{
		FieldSet: fieldset.PlaceDetailsStandard, EndpointClass: "place_details", PlaceID: "ChIJABC",
	})
	if res.Error == nil || res.Error.Code != CodeBudgetExceeded {
		t.Fatalf("error = %+v, want %s", res.Error, CodeBudgetExceeded)
	}
	if env.calls.Load() != 0 {
		t.Error("budget-blocked call must not reach the provider")
	}
}

func TestSkipBudgetCheckHonoredForHealthCheckOnly(t *testing.T) {
	limits := map[endpoint.Class]int64{
		endpoint.PlaceDetails: 100,
	}
	env := newTestEnv(t, okDetailsHandler, limits, "key")
	ctx := context.Background()
	if err := env.budget.Record(ctx, endpoint.PlaceDetails, 100); err != nil {
		t.Fatalf("Record error = %v", err)
	}

	// Non-health field set: skip flag ignored.
	res := env.svc.ProviderRequest(ctx, Params{
		FieldSet: fieldset.PlaceDetailsStandard, EndpointClass: "place_details",
		PlaceID: "ChIJABC", SkipBudgetCheck: true,
	})
	if res.Error == nil || res.Error.Code != CodeBudgetExceeded {
		t.Errorf("skipBudgetCheck on a non-health call: error = %+v", res.Error)
	}

	// Health probe bypasses the exhausted budget.
	res = env.svc.ProviderRequest(ctx, Params{
		FieldSet: fieldset.HealthCheck, EndpointClass: "place_details",
		PlaceID: "ChIJABC", SkipBudgetCheck: true,
	})
	if !res.Success {
		t.Errorf("health probe blocked: %+v", res.Error)
	}
}

func TestEnhancedDetailsDowngradeWhenFlagOff(t *testing.T) {
	env := newTestEnv(t, okDetailsHandler, nil, "key")
	ctx := context.Background()

	if err := env.flags.Set(ctx, flags.PlaceDetailsEnhanced, false, "budget_critical_place_details"); err != nil {
		t.Fatalf("Set flag error = %v", err)
	}

	res := env.svc.ProviderRequest(ctx, Params{
		FieldSet: fieldset.PlaceDetailsWithPhotos, EndpointClass: "place_details", PlaceID: "ChIJABC",
	})
	if !res.Success {
		t.Fatalf("result = %+v", res.Error)
	}
	if res.Metadata.FieldSet != fieldset.PlaceDetailsStandard {
		t.Errorf("field set = %q, want downgraded %q", res.Metadata.FieldSet, fieldset.PlaceDetailsStandard)
	}
}

func TestSessionTokenPlacement(t *testing.T) {
	var mu sync.Mutex
	var headerToken string
	var bodyToken string

	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		headerToken = r.Header.Get("X-Goog-Session-Token")
		var body struct {
			SessionToken string `json:"sessionToken"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		bodyToken = body.SessionToken
		mu.Unlock()
		w.Write([]byte(`{"suggestions":[]}`))
	}, nil, "key")

	res := env.svc.ProviderRequest(context.Background(), Params{
		FieldSet: fieldset.Autocomplete, EndpointClass: "autocomplete",
		Input: "tag", SessionToken: "tok-123",
	})
	if !res.Success {
		t.Fatalf("result = %+v", res.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if headerToken != "" {
		t.Error("autocomplete must not send the session token as a header")
	}
	if bodyToken != "tok-123" {
		t.Errorf("body sessionToken = %q, want tok-123", bodyToken)
	}
}

func TestErrorMessagesAreRedacted(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"displayName": "Secret Place", "error": "bad field"}`))
	}, nil, "key")

	res := env.svc.ProviderRequest(context.Background(), Params{
		FieldSet: fieldset.PlaceDetailsStandard, EndpointClass: "place_details", PlaceID: "ChIJABC",
	})
	if res.Error == nil {
		t.Fatal("expected an error result")
	}
	if res.Error.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", res.Error.Code)
	}
	if want := "provider returned status 400"; res.Error.Message != want {
		t.Errorf("message = %q, want the generic %q (no provider body)", res.Error.Message, want)
	}
}
