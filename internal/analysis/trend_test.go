package analysis

import "testing"

func TestTrendAnalyze(t *testing.T) {
	a := NewTrendAnalyzer(nil)

	tests := []struct {
		name    string
		series  []float64
		wantDir Direction
	}{
		{"empty", nil, TrendStable},
		{"single sample", []float64{5}, TrendStable},
		{"constant", []float64{3, 3, 3, 3, 3}, TrendStable},
		{"increasing", []float64{1, 2, 3, 4, 5}, TrendIncreasing},
		{"decreasing", []float64{5, 4, 3, 2, 1}, TrendDecreasing},
		{"small drift under threshold", []float64{1, 1.05, 1.1, 1.15}, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Analyze(tt.series)
			if got.Direction != tt.wantDir {
				t.Errorf("Analyze(%v).Direction = %q, want %q", tt.series, got.Direction, tt.wantDir)
			}
		})
	}
}

func TestTrendUnderflowIsStableZero(t *testing.T) {
	a := NewTrendAnalyzer(nil)
	got := a.Analyze([]float64{42})
	if got.Direction != TrendStable || got.Rate != 0 {
		t.Errorf("Analyze(1 sample) = %+v, want {stable 0}", got)
	}
}

func TestTrendConstantSeriesRateZero(t *testing.T) {
	a := NewTrendAnalyzer(nil)
	got := a.Analyze([]float64{7, 7, 7, 7, 7, 7, 7, 7})
	if got.Rate != 0 {
		t.Errorf("constant series rate = %v, want 0", got.Rate)
	}
}

// Only the most recent samples count: an old decline must not mask a
// fresh climb.
func TestTrendUsesRecentTailOnly(t *testing.T) {
	a := NewTrendAnalyzer(nil)

	series := make([]float64, 0, 30)
	for i := 0; i < 20; i++ {
		series = append(series, float64(100-i))
	}
	for i := 1; i <= 10; i++ {
		series = append(series, float64(i))
	}

	got := a.Analyze(series)
	if got.Direction != TrendIncreasing {
		t.Errorf("Direction = %q, want increasing from the last 10 samples", got.Direction)
	}
	if got.Rate != 1 {
		t.Errorf("Rate = %v, want 1", got.Rate)
	}
}
