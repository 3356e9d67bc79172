package fieldset

import (
	"errors"
	"testing"
)

func TestGetKnown(t *testing.T) {
	fs, err := Get(TextSearch)
	if err != nil {
		t.Fatalf("Get(TextSearch) error = %v", err)
	}
	if fs.Tier != TierAdvanced {
		t.Errorf("TextSearch tier = %q, want %q", fs.Tier, TierAdvanced)
	}
	if fs.Mask == "" {
		t.Error("TextSearch mask is empty")
	}
}

func TestGetUnknown(t *testing.T) {
	_, err := Get("MADE_UP_MASK")
	if err == nil {
		t.Fatal("Get() with unknown name should fail")
	}
	var invalid ErrInvalidFieldSet
	if !errors.As(err, &invalid) {
		t.Errorf("error type = %T, want ErrInvalidFieldSet", err)
	}
}

func TestAllRequiredSetsRegistered(t *testing.T) {
	required := []string{
		HealthCheck, SearchLite, PlaceHeader, PlaceDetailsStandard,
		PlaceDetailsWithPhotos, NearbySearch, TextSearch, Autocomplete,
	}
	for _, name := range required {
		if _, err := Get(name); err != nil {
			t.Errorf("required field set %q not registered: %v", name, err)
		}
	}
}

func TestHealthCheckIsFree(t *testing.T) {
	cost, err := MaxCost(HealthCheck)
	if err != nil {
		t.Fatalf("MaxCost(HealthCheck) error = %v", err)
	}
	if cost != 0 {
		t.Errorf("HealthCheck cost = %d, want 0", cost)
	}
}

func TestCostTierOf(t *testing.T) {
	tier, err := CostTierOf(PlaceDetailsWithPhotos)
	if err != nil {
		t.Fatalf("CostTierOf error = %v", err)
	}
	if tier != TierPreferred {
		t.Errorf("tier = %q, want %q", tier, TierPreferred)
	}
}
