package session

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/driveline-data/driveline/internal/analysis"
)

// ChannelSummary aggregates one channel over the final window.
type ChannelSummary struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Latest  float64 `json:"latest"`
}

// Report is the final aggregate produced when a session stops.
type Report struct {
	SessionID string    `json:"session_id"`
	ModeID    string    `json:"mode_id"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	Duration  string    `json:"duration"`

	Ticks          uint64 `json:"ticks"`
	AnalysisPasses uint64 `json:"analysis_passes"`

	Warnings        []Warning                 `json:"warnings"`
	DiagErrors      []DiagError               `json:"diag_errors"`
	AnomalyCounts   map[string]int            `json:"anomaly_counts"` // by severity
	Recommendations []analysis.Recommendation `json:"recommendations"`
	Channels        map[string]ChannelSummary `json:"channels"`

	EfficiencyScore float64 `json:"efficiency_score"`
	FinalBatteryPct float64 `json:"final_battery_pct"`
}

// buildReport assembles the final aggregate. Caller holds mu.
func (s *Session) buildReport() *Report {
	r := &Report{
		SessionID:      s.ID,
		ModeID:         s.profile.ID,
		StartedAt:      s.startedAt,
		StoppedAt:      s.stoppedAt,
		Duration:       s.stoppedAt.Sub(s.startedAt).String(),
		Ticks:          s.sim.State().Tick,
		AnalysisPasses: s.analysisPasses,
		AnomalyCounts:  make(map[string]int),
		Channels:       make(map[string]ChannelSummary),
	}
	r.Warnings = append(r.Warnings, s.warnings...)
	r.DiagErrors = append(r.DiagErrors, s.diagErrors...)

	for _, a := range s.anomalies {
		r.AnomalyCounts[string(a.Severity)]++
	}

	windows := s.pipeline.Windows()
	for _, channel := range windows.Channels() {
		series := windows.Series(channel)
		if len(series) == 0 {
			continue
		}
		summary := ChannelSummary{
			Samples: len(series),
			Mean:    stat.Mean(series, nil),
			Min:     series[0],
			Max:     series[0],
			Latest:  series[len(series)-1],
		}
		for _, v := range series {
			if v < summary.Min {
				summary.Min = v
			}
			if v > summary.Max {
				summary.Max = v
			}
		}
		r.Channels[channel] = summary
	}

	if s.lastAnalysis != nil {
		r.Recommendations = append(r.Recommendations, s.lastAnalysis.Recommendations...)
	}
	if adv, ok := analysis.ModeAdvisory(s.profile.ID); ok {
		r.Recommendations = append(r.Recommendations, adv)
	}
	r.EfficiencyScore = analysis.EfficiencyScore(windows, s.profile)
	r.FinalBatteryPct = s.emitter.SoC()
	return r
}
