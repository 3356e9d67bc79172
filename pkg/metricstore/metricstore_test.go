package metricstore

import (
	"math"
	"testing"
)

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.Count != 0 {
		t.Errorf("Count = %d, want 0", s.Count)
	}
}

func TestSummarizeSingle(t *testing.T) {
	s := Summarize([]float64{42})
	if s.Count != 1 || s.Min != 42 || s.Max != 42 || s.Avg != 42 {
		t.Errorf("Summarize([42]) = %+v", s)
	}
	if s.P50 != 42 || s.P95 != 42 || s.P99 != 42 {
		t.Errorf("percentiles of a single sample should all be 42: %+v", s)
	}
}

func TestSummarizePercentiles(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1) // 1..100
	}
	s := Summarize(values)

	if s.Count != 100 {
		t.Errorf("Count = %d, want 100", s.Count)
	}
	if s.Min != 1 || s.Max != 100 {
		t.Errorf("Min/Max = %v/%v, want 1/100", s.Min, s.Max)
	}
	// index = floor(n*q): p50 → values[50] = 51, p95 → values[95] = 96,
	// p99 → values[99] = 100.
	if s.P50 != 51 {
		t.Errorf("P50 = %v, want 51", s.P50)
	}
	if s.P95 != 96 {
		t.Errorf("P95 = %v, want 96", s.P95)
	}
	if s.P99 != 100 {
		t.Errorf("P99 = %v, want 100", s.P99)
	}
	if math.Abs(s.Avg-50.5) > 1e-9 {
		t.Errorf("Avg = %v, want 50.5", s.Avg)
	}
}

func TestPercentileOvershootClampsToMax(t *testing.T) {
	// With n = 2, floor(2*0.99) = 1 is the last index, so P99 must be the
	// maximum and stay in range.
	s := Summarize([]float64{5, 9})
	if s.P99 != 9 {
		t.Errorf("P99 = %v, want max 9", s.P99)
	}
}

func TestSummarizeUnsortedInput(t *testing.T) {
	s := Summarize([]float64{30, 10, 20})
	if s.Min != 10 || s.Max != 30 {
		t.Errorf("Min/Max = %v/%v, want 10/30", s.Min, s.Max)
	}
	if s.P50 != 20 {
		t.Errorf("P50 = %v, want 20", s.P50)
	}
}

func TestSummarizeDoesNotMutateInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Summarize(values)
	if values[0] != 3 || values[1] != 1 || values[2] != 2 {
		t.Errorf("input mutated: %v", values)
	}
}
