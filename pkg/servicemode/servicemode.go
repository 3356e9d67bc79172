// Package servicemode is the four-level degradation controller. A periodic
// loop inspects provider health, budget, and latency signals, picks the
// current mode, and toggles feature flags accordingly.
package servicemode

import (
	"fmt"
	"time"

	"github.com/wisbric/tajine/pkg/flags"
)

// Mode is the service degradation level.
type Mode int

const (
	// ModeNormal serves everything.
	ModeNormal Mode = 0
	// ModeCostSaver sheds the most expensive provider features.
	ModeCostSaver Mode = 1
	// ModeProviderLimited serves cached and owned data only where possible.
	ModeProviderLimited Mode = 2
	// ModeOffline serves owned data exclusively. Manual override only.
	ModeOffline Mode = 3
)

// ParseMode validates an integer mode.
func ParseMode(m int) (Mode, error) {
	if m < 0 || m > 3 {
		return 0, fmt.Errorf("invalid service mode %d (want 0..3)", m)
	}
	return Mode(m), nil
}

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeCostSaver:
		return "cost_saver"
	case ModeProviderLimited:
		return "provider_limited"
	case ModeOffline:
		return "offline"
	default:
		return fmt.Sprintf("mode_%d", int(m))
	}
}

// Triggers are the health signals a mode decision is derived from.
type Triggers struct {
	ProviderHealthy bool `json:"providerHealthy"`
	BudgetOk        bool `json:"budgetOk"`
	LatencyOk       bool `json:"latencyOk"`
	BreakerClosed   bool `json:"breakerClosed"`
}

// Record is the singleton service-mode state.
type Record struct {
	CurrentMode Mode      `json:"currentMode"`
	Reason      string    `json:"reason"`
	EnteredAt   time.Time `json:"enteredAt"`
	Triggers    Triggers  `json:"triggers"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HistoryEntry is one recorded transition.
type HistoryEntry struct {
	Mode         Mode      `json:"mode"`
	PreviousMode Mode      `json:"previousMode"`
	Reason       string    `json:"reason"`
	Triggers     Triggers  `json:"triggers"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Decide picks the mode for a set of triggers. Breaker-open or an unhealthy
// provider forces at least mode 2; budget or latency trouble at least mode 1.
// Mode 3 is never chosen automatically.
func Decide(t Triggers) (Mode, string) {
	if !t.ProviderHealthy || !t.BreakerClosed {
		return ModeProviderLimited, "auto_provider_unhealthy"
	}
	if !t.BudgetOk || !t.LatencyOk {
		return ModeCostSaver, "auto_budget_or_latency"
	}
	return ModeNormal, "auto_healthy"
}

// modeFlags is the static per-mode feature flag table.
var modeFlags = map[Mode]map[string]bool{
	ModeNormal: {
		flags.PhotosEnabled:        true,
		flags.OpenNowEnabled:       true,
		flags.TextSearchEnabled:    true,
		flags.NearbySearchEnabled:  true,
		flags.AutocompleteEnabled:  true,
		flags.PlaceDetailsEnhanced: true,
		flags.MapTilesEnabled:      true,
	},
	ModeCostSaver: {
		flags.PhotosEnabled:        false,
		flags.OpenNowEnabled:       false,
		flags.TextSearchEnabled:    true,
		flags.NearbySearchEnabled:  true,
		flags.AutocompleteEnabled:  true,
		flags.PlaceDetailsEnhanced: true,
		flags.MapTilesEnabled:      true,
	},
	ModeProviderLimited: {
		flags.PhotosEnabled:        false,
		flags.OpenNowEnabled:       false,
		flags.TextSearchEnabled:    false,
		flags.NearbySearchEnabled:  false,
		flags.AutocompleteEnabled:  false,
		flags.PlaceDetailsEnhanced: false,
		flags.MapTilesEnabled:      false,
	},
	ModeOffline: {
		flags.PhotosEnabled:        false,
		flags.OpenNowEnabled:       false,
		flags.TextSearchEnabled:    false,
		flags.NearbySearchEnabled:  false,
		flags.AutocompleteEnabled:  false,
		flags.PlaceDetailsEnhanced: false,
		flags.MapTilesEnabled:      false,
	},
}

// FlagsForMode returns the feature flag table applied on entry to mode.
func FlagsForMode(m Mode) map[string]bool {
	return modeFlags[m]
}
