package redact

import (
	"strings"
	"testing"
)

func TestRedactJSONFragment(t *testing.T) {
	in := `provider error: {"displayName": "Café Clock", "id": "abc123"}`
	got := Redact(in)
	if strings.Contains(got, "Café Clock") {
		t.Errorf("Redact() left provider content: %q", got)
	}
	if !strings.Contains(got, "[REDACTED]") {
		t.Errorf("Redact() did not mark elision: %q", got)
	}
	if !strings.Contains(got, "abc123") {
		t.Errorf("Redact() removed non-denylisted content: %q", got)
	}
}

func TestRedactKeyValuePairs(t *testing.T) {
	cases := []string{
		`formattedAddress=12 Rue Riad, Marrakesh`,
		`nationalPhoneNumber: 0524-123456`,
		`websiteUri="https://example.com"`,
		`rating: 4.7`,
	}
	for _, in := range cases {
		got := Redact(in)
		if !strings.Contains(got, "[REDACTED]") {
			t.Errorf("Redact(%q) = %q, value not elided", in, got)
		}
	}
}

func TestRedactLeavesCleanTextAlone(t *testing.T) {
	in := "dial tcp 10.0.0.1:443: i/o timeout"
	if got := Redact(in); got != in {
		t.Errorf("Redact(%q) = %q, want unchanged", in, got)
	}
}

func TestRedactedOutputHasNoLeaks(t *testing.T) {
	inputs := []string{
		`{"displayName": "Dar Naji", "formattedAddress": "Rabat", "reviews": [{"text": "great"}]}`,
		`displayName=Le Jardin nationalPhoneNumber=+212612345678`,
	}
	for _, in := range inputs {
		if ContainsLeak(Redact(in)) {
			t.Errorf("Redact(%q) still leaks provider content", in)
		}
	}
}

func TestStatusToCode(t *testing.T) {
	cases := map[int]string{
		400: "INVALID_REQUEST",
		401: "UNAUTHORIZED",
		403: "FORBIDDEN",
		404: "NOT_FOUND",
		429: "RATE_LIMITED",
		500: "INTERNAL_ERROR",
		502: "BAD_GATEWAY",
		503: "SERVICE_UNAVAILABLE",
		504: "GATEWAY_TIMEOUT",
		418: "HTTP_418",
	}
	for status, want := range cases {
		if got := StatusToCode(status); got != want {
			t.Errorf("StatusToCode(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	for _, status := range []int{429, 500, 501, 502, 503, 504} {
		if !IsRetryable(status) {
			t.Errorf("IsRetryable(%d) = false, want true", status)
		}
	}
	for _, status := range []int{200, 400, 401, 403, 404, 505} {
		if IsRetryable(status) {
			t.Errorf("IsRetryable(%d) = true, want false", status)
		}
	}
}
