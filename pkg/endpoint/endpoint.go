// Package endpoint defines the coarse endpoint classes the provider access
// subsystem budgets, prioritises, and shields independently.
package endpoint

import "fmt"

// Class groups provider endpoints for budgeting and load shedding.
type Class string

const (
	Health       Class = "health"
	Autocomplete Class = "autocomplete"
	TextSearch   Class = "text_search"
	NearbySearch Class = "nearby_search"
	PlaceDetails Class = "place_details"
	Photos       Class = "photos"
)

// All lists every endpoint class.
var All = []Class{Health, Autocomplete, TextSearch, NearbySearch, PlaceDetails, Photos}

// Parse validates a wire value.
func Parse(s string) (Class, error) {
	switch Class(s) {
	case Health, Autocomplete, TextSearch, NearbySearch, PlaceDetails, Photos:
		return Class(s), nil
	default:
		return "", fmt.Errorf("invalid endpoint class %q", s)
	}
}

// Priority returns the load-shedding priority class (1 highest .. 4 lowest).
func (c Class) Priority() int {
	switch c {
	case PlaceDetails, Health:
		return 1
	case TextSearch, NearbySearch:
		return 2
	case Autocomplete:
		return 3
	case Photos:
		return 4
	default:
		return 4
	}
}

// DefaultDailyLimits is the per-class daily budget in millicents.
var DefaultDailyLimits = map[Class]int64{
	Health:       50_000,
	Autocomplete: 1_500_000,
	TextSearch:   4_000_000,
	NearbySearch: 2_500_000,
	PlaceDetails: 5_000_000,
	Photos:       1_000_000,
}
