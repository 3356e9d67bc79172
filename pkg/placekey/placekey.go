// Package placekey defines the tagged identifier used everywhere in place of
// provider-native place IDs.
package placekey

import (
	"fmt"
	"strings"
)

// Scheme tags the origin of a place identifier.
type Scheme string

const (
	// SchemeProvider marks IDs owned by the external places provider.
	SchemeProvider Scheme = "g"
	// SchemeCurated marks editorially curated places addressed by slug.
	SchemeCurated Scheme = "c"
)

// Key is an opaque "{scheme}:{id}" place reference.
type Key string

// FromProviderID tags a provider-native place ID.
func FromProviderID(id string) Key {
	return Key(string(SchemeProvider) + ":" + id)
}

// FromSlug tags a curated place slug.
func FromSlug(slug string) Key {
	return Key(string(SchemeCurated) + ":" + slug)
}

// Parse splits and validates a key.
func Parse(s string) (Key, error) {
	scheme, opaque, ok := strings.Cut(s, ":")
	if !ok || opaque == "" {
		return "", fmt.Errorf("malformed place key %q", s)
	}
	switch Scheme(scheme) {
	case SchemeProvider, SchemeCurated:
		return Key(s), nil
	default:
		return "", fmt.Errorf("unknown place key scheme %q", scheme)
	}
}

// Scheme returns the key's scheme tag.
func (k Key) Scheme() Scheme {
	scheme, _, _ := strings.Cut(string(k), ":")
	return Scheme(scheme)
}

// ID returns the opaque identifier without the scheme tag.
func (k Key) ID() string {
	_, id, _ := strings.Cut(string(k), ":")
	return id
}

func (k Key) String() string { return string(k) }
