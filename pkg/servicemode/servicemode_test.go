package servicemode

import "testing"

func healthyTriggers() Triggers {
	return Triggers{ProviderHealthy: true, BudgetOk: true, LatencyOk: true, BreakerClosed: true}
}

func TestDecideNormal(t *testing.T) {
	mode, reason := Decide(healthyTriggers())
	if mode != ModeNormal {
		t.Errorf("mode = %d, want 0", mode)
	}
	if reason != "auto_healthy" {
		t.Errorf("reason = %q", reason)
	}
}

func TestDecideProviderUnhealthyForcesModeTwo(t *testing.T) {
	tr := healthyTriggers()
	tr.ProviderHealthy = false
	if mode, _ := Decide(tr); mode != ModeProviderLimited {
		t.Errorf("unhealthy provider: mode = %d, want 2", mode)
	}

	tr = healthyTriggers()
	tr.BreakerClosed = false
	if mode, _ := Decide(tr); mode != ModeProviderLimited {
		t.Errorf("open breaker: mode = %d, want 2", mode)
	}
}

func TestDecideBudgetOrLatencyForcesModeOne(t *testing.T) {
	tr := healthyTriggers()
	tr.BudgetOk = false
	if mode, _ := Decide(tr); mode != ModeCostSaver {
		t.Errorf("bad budget: mode = %d, want 1", mode)
	}

	tr = healthyTriggers()
	tr.LatencyOk = false
	if mode, _ := Decide(tr); mode != ModeCostSaver {
		t.Errorf("bad latency: mode = %d, want 1", mode)
	}
}

func TestDecideSeverityMonotonicity(t *testing.T) {
	// Provider trouble dominates budget trouble.
	tr := Triggers{ProviderHealthy: false, BudgetOk: false, LatencyOk: true, BreakerClosed: false}
	if mode, _ := Decide(tr); mode != ModeProviderLimited {
		t.Errorf("combined trouble: mode = %d, want 2", mode)
	}
}

func TestDecideNeverPicksOffline(t *testing.T) {
	for _, tr := range []Triggers{
		{},
		{ProviderHealthy: false},
		{BudgetOk: false, LatencyOk: false},
	} {
		if mode, _ := Decide(tr); mode == ModeOffline {
			t.Errorf("Decide(%+v) chose offline; mode 3 is manual only", tr)
		}
	}
}

func TestParseMode(t *testing.T) {
	for m := 0; m <= 3; m++ {
		if _, err := ParseMode(m); err != nil {
			t.Errorf("ParseMode(%d) error = %v", m, err)
		}
	}
	for _, m := range []int{-1, 4, 99} {
		if _, err := ParseMode(m); err == nil {
			t.Errorf("ParseMode(%d) should fail", m)
		}
	}
}

func TestFlagTable(t *testing.T) {
	normal := FlagsForMode(ModeNormal)
	for name, enabled := range normal {
		if !enabled {
			t.Errorf("mode 0 disables %q, want everything enabled", name)
		}
	}

	saver := FlagsForMode(ModeCostSaver)
	if saver["photos_enabled"] {
		t.Error("mode 1 must disable photos_enabled")
	}
	if saver["open_now_enabled"] {
		t.Error("mode 1 must disable open_now_enabled")
	}
	if !saver["text_search_enabled"] || !saver["autocomplete_enabled"] {
		t.Error("mode 1 keeps searches enabled")
	}

	for _, m := range []Mode{ModeProviderLimited, ModeOffline} {
		for name, enabled := range FlagsForMode(m) {
			if enabled {
				t.Errorf("mode %d leaves %q enabled, want all off", m, name)
			}
		}
	}
}
