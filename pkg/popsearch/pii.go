// Package popsearch is the privacy-preserving search-popularity pipeline:
// a short-lived raw log for authenticated users, filtered for PII, rolled up
// into k-anonymous daily aggregates.
package popsearch

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxQueryLen caps stored normalized queries.
const maxQueryLen = 200

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	urlRe   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	// moroccanPhoneRe matches +212/00212/0-prefixed Moroccan mobile and
	// landline numbers, separators allowed.
	moroccanPhoneRe = regexp.MustCompile(`(?:\+212|00212|0)[\s.\-]?[5-7](?:[\s.\-]?\d){8}`)
	longDigitsRe    = regexp.MustCompile(`\d{10,}`)
	separatorsRe    = regexp.MustCompile(`[\s.\-()]`)
)

// ContainsPII reports whether a raw query carries an email address, a URL, a
// Moroccan phone number, or any 10+-digit number. Queries that do are never
// logged.
func ContainsPII(raw string) bool {
	if emailRe.MatchString(raw) {
		return true
	}
	if urlRe.MatchString(raw) {
		return true
	}
	if moroccanPhoneRe.MatchString(raw) {
		return true
	}
	// Collapse separators so "06 12 34 56 78" reads as one digit run.
	return longDigitsRe.MatchString(separatorsRe.ReplaceAllString(raw, ""))
}

// stripMarks removes combining marks after NFD decomposition, folding
// accented characters onto their base letters.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize produces the canonical form a query is aggregated under:
// lowercased, trimmed, whitespace-collapsed, diacritics folded, truncated to
// 200 characters.
func Normalize(raw string) string {
	q := strings.ToLower(strings.TrimSpace(raw))
	q = strings.Join(strings.Fields(q), " ")

	if folded, _, err := transform.String(stripMarks, q); err == nil {
		q = folded
	}

	if r := []rune(q); len(r) > maxQueryLen {
		q = string(r[:maxQueryLen])
	}
	return q
}
