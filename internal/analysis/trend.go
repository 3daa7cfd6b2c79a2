package analysis

import "github.com/driveline-data/driveline/internal/config"

// Direction classifies a channel's short-term movement.
type Direction string

const (
	TrendIncreasing Direction = "increasing"
	TrendDecreasing Direction = "decreasing"
	TrendStable     Direction = "stable"
)

// TrendResult is the direction and signed average delta of a channel's
// most recent samples.
type TrendResult struct {
	Direction Direction `json:"direction"`
	Rate      float64   `json:"rate"`
}

// TrendAnalyzer estimates short-term trends from rolling windows.
type TrendAnalyzer struct {
	sampleCount   int
	rateThreshold float64
}

// NewTrendAnalyzer creates an analyzer tuned from cfg.
func NewTrendAnalyzer(cfg *config.TuningConfig) *TrendAnalyzer {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &TrendAnalyzer{
		sampleCount:   cfg.GetTrendSampleCount(),
		rateThreshold: cfg.GetTrendRateThreshold(),
	}
}

// Analyze computes the trend over the tail of series. Fewer than two
// samples is not an error; the trend is simply stable at rate zero.
func (a *TrendAnalyzer) Analyze(series []float64) TrendResult {
	if len(series) < 2 {
		return TrendResult{Direction: TrendStable, Rate: 0}
	}

	tail := series
	if len(tail) > a.sampleCount {
		tail = tail[len(tail)-a.sampleCount:]
	}

	var sum float64
	for i := 1; i < len(tail); i++ {
		sum += tail[i] - tail[i-1]
	}
	rate := sum / float64(len(tail)-1)

	switch {
	case rate > a.rateThreshold:
		return TrendResult{Direction: TrendIncreasing, Rate: rate}
	case rate < -a.rateThreshold:
		return TrendResult{Direction: TrendDecreasing, Rate: rate}
	default:
		return TrendResult{Direction: TrendStable, Rate: rate}
	}
}
