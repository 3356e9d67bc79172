package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestMiddlewareSetsUserID(t *testing.T) {
	want := uuid.New()
	var got uuid.UUID
	var ok bool

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", want.String())
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !ok {
		t.Fatal("expected user ID in context")
	}
	if got != want {
		t.Errorf("user ID = %s, want %s", got, want)
	}
}

func TestMiddlewareAnonymous(t *testing.T) {
	var ok bool
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if ok {
		t.Error("expected anonymous context without X-User-ID header")
	}
}

func TestMiddlewareInvalidUUID(t *testing.T) {
	var ok bool
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "not-a-uuid")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if ok {
		t.Error("invalid UUID should be treated as anonymous")
	}
}
