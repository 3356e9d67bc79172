package endpoint

import "testing"

func TestParse(t *testing.T) {
	for _, c := range All {
		got, err := Parse(string(c))
		if err != nil {
			t.Errorf("Parse(%q) error = %v", c, err)
		}
		if got != c {
			t.Errorf("Parse(%q) = %q", c, got)
		}
	}
	if _, err := Parse("reviews"); err == nil {
		t.Error("Parse should reject unknown classes")
	}
}

func TestPriorities(t *testing.T) {
	cases := map[Class]int{
		PlaceDetails: 1,
		Health:       1,
		TextSearch:   2,
		NearbySearch: 2,
		Autocomplete: 3,
		Photos:       4,
	}
	for c, want := range cases {
		if got := c.Priority(); got != want {
			t.Errorf("%s priority = %d, want %d", c, got, want)
		}
	}
}

func TestEveryClassHasALimit(t *testing.T) {
	for _, c := range All {
		if DefaultDailyLimits[c] <= 0 && c != Health {
			t.Errorf("class %s has no daily limit", c)
		}
	}
}
