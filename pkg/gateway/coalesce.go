package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wisbric/tajine/pkg/endpoint"
)

// coalesceKey fingerprints an idempotent provider call for singleflight.
// The priority suffix keeps priority classes from sharing outcomes, since
// shedding decisions differ between them.
func coalesceKey(class endpoint.Class, p Params, cacheKey string, priority int) string {
	var key string
	switch class {
	case endpoint.PlaceDetails:
		key = fmt.Sprintf("details:%s|fs:%s|lang:%s|region:%s",
			p.PlaceID, p.FieldSet, p.Language, p.RegionCode)
	case endpoint.Autocomplete:
		key = fmt.Sprintf("autocomplete:%s|lang:%s|region:%s|lb:%s|types:%s|fs:%s",
			p.Input, p.Language, p.RegionCode, biasFragment(p), typesFragment(p), p.FieldSet)
	case endpoint.TextSearch:
		key = fmt.Sprintf("text_search:%s|%s|%s", p.RegionCode, p.FieldSet, cacheKey)
	default:
		return ""
	}
	return fmt.Sprintf("%s:p%d", key, priority)
}

func biasFragment(p Params) string {
	if p.Bias == nil {
		return ""
	}
	return fmt.Sprintf("%g,%g,%g", p.Bias.Lat, p.Bias.Lng, p.Bias.RadiusMeters)
}

func typesFragment(p Params) string {
	if len(p.IncludedTypes) == 0 {
		return ""
	}
	types := make([]string, len(p.IncludedTypes))
	copy(types, p.IncludedTypes)
	sort.Strings(types)
	return strings.Join(types, ",")
}
