package analysis

import (
	"time"

	"github.com/driveline-data/driveline/internal/config"
	"github.com/driveline-data/driveline/internal/modes"
	"github.com/driveline-data/driveline/internal/telemetry"
)

// AnalysisResult is one analysis pass over the accumulated windows.
type AnalysisResult struct {
	Timestamp       time.Time              `json:"timestamp"`
	ModeID          string                 `json:"mode_id"`
	Trends          map[string]TrendResult `json:"trends"`
	Anomalies       []AnomalyRecord        `json:"anomalies"`
	Recommendations []Recommendation       `json:"recommendations"`
	EfficiencyScore float64                `json:"efficiency_score"`
}

// Pipeline wires the window store, trend analyzer, anomaly detector and
// recommendation generator into one pass. Not safe for concurrent use;
// the owning session serializes ingestion against analysis.
type Pipeline struct {
	windows  *WindowStore
	trends   *TrendAnalyzer
	detector *Detector
	recs     *Generator
}

// NewPipeline builds an analysis pipeline tuned from cfg.
func NewPipeline(cfg *config.TuningConfig) *Pipeline {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &Pipeline{
		windows:  NewWindowStore(cfg.GetBufferCapacity()),
		trends:   NewTrendAnalyzer(cfg),
		detector: NewDetector(cfg),
		recs:     NewGenerator(cfg),
	}
}

// Windows exposes the rolling window store for report aggregation.
func (p *Pipeline) Windows() *WindowStore {
	return p.windows
}

// Ingest appends every channel of a telemetry record to the windows.
func (p *Pipeline) Ingest(rec telemetry.Record) {
	for channel, value := range rec.Channels() {
		p.windows.Append(channel, value, rec.Timestamp)
	}
}

// Run executes one analysis pass over all channels.
func (p *Pipeline) Run(profile modes.Profile, now time.Time) AnalysisResult {
	result := AnalysisResult{
		Timestamp: now,
		ModeID:    profile.ID,
		Trends:    make(map[string]TrendResult),
	}

	for _, channel := range p.windows.Channels() {
		series := p.windows.Series(channel)
		result.Trends[channel] = p.trends.Analyze(series)
		if rec := p.detector.Check(channel, series, now); rec != nil {
			result.Anomalies = append(result.Anomalies, *rec)
		}
	}

	result.Recommendations = p.recs.Generate(result.Trends, result.Anomalies)
	result.EfficiencyScore = EfficiencyScore(p.windows, profile)
	return result
}

// Reset clears the rolling windows for a new session.
func (p *Pipeline) Reset() {
	p.windows.Reset()
}
