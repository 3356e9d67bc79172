// Package redact strips provider content from strings that may leave the
// core (error messages, logs) and maps transport status codes onto the
// stable error taxonomy.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

// denylistKeys are provider response field names whose values must never
// appear in logs or error messages.
var denylistKeys = []string{
	"displayName",
	"formattedAddress",
	"shortFormattedAddress",
	"nationalPhoneNumber",
	"internationalPhoneNumber",
	"websiteUri",
	"googleMapsUri",
	"rating",
	"userRatingCount",
	"reviews",
	"photos",
	"currentOpeningHours",
	"regularOpeningHours",
	"editorialSummary",
	"priceLevel",
}

// denylistRe matches `"key": <value>` / `key=value` / `key: value` fragments
// for any denylisted key, capturing the value so it can be elided.
// Quoted strings, objects, and arrays are matched as units; bare values run
// to the next comma or closing brace so multi-word values are fully elided.
var denylistRe = regexp.MustCompile(
	`(?i)["']?(` + strings.Join(denylistKeys, "|") + `)["']?\s*[:=]\s*("(?:[^"\\]|\\.)*"|'[^']*'|\{[^}]*\}|\[[^\]]*\]|[^,}\n]+)`,
)

// Redact elides the value of any denylisted key-value substring in text.
func Redact(text string) string {
	return denylistRe.ReplaceAllString(text, `$1: [REDACTED]`)
}

// ContainsLeak reports whether text still carries a denylisted key with a
// non-redacted value. Tests use it to check Redact's output.
func ContainsLeak(text string) bool {
	for _, m := range denylistRe.FindAllStringSubmatch(text, -1) {
		if !strings.Contains(m[2], "[REDACTED]") {
			return true
		}
	}
	return false
}

// Stable wire error codes.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeBadGateway         = "BAD_GATEWAY"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeGatewayTimeout     = "GATEWAY_TIMEOUT"
)

// StatusToCode maps an HTTP status to a stable error code. Unmapped statuses
// become "HTTP_<n>".
func StatusToCode(status int) string {
	switch status {
	case 400:
		return CodeInvalidRequest
	case 401:
		return CodeUnauthorized
	case 403:
		return CodeForbidden
	case 404:
		return CodeNotFound
	case 429:
		return CodeRateLimited
	case 500:
		return CodeInternalError
	case 502:
		return CodeBadGateway
	case 503:
		return CodeServiceUnavailable
	case 504:
		return CodeGatewayTimeout
	default:
		return fmt.Sprintf("HTTP_%d", status)
	}
}

// IsRetryable reports whether an HTTP status is worth retrying: 429 and
// 500–504.
func IsRetryable(status int) bool {
	return status == 429 || (status >= 500 && status <= 504)
}
