package analysis

import (
	"fmt"
	"sort"

	"github.com/driveline-data/driveline/internal/config"
)

// Priority orders recommendations for display.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// NominalMessage is the single informational advisory emitted when no
// anomalies or actionable trends exist.
const NominalMessage = "nominal operating state"

// Recommendation is one prioritized advisory.
type Recommendation struct {
	Component string   `json:"component"`
	Priority  Priority `json:"priority"`
	Message   string   `json:"message"`
}

// modeAdvisories are per-mode driving hints surfaced in session reports.
var modeAdvisories = map[string]string{
	"eco":     "eco mode active: smooth inputs maximize regeneration and range",
	"city":    "city mode active: anticipate stops to let regeneration recover braking energy",
	"sport":   "sport mode active: expect elevated consumption and drivetrain temperatures",
	"highway": "highway mode active: sustained speed dominates consumption, range estimates tighten",
}

// ModeAdvisory returns the low-priority baseline hint for a mode, or
// false when none is registered.
func ModeAdvisory(modeID string) (Recommendation, bool) {
	msg, ok := modeAdvisories[modeID]
	if !ok {
		return Recommendation{}, false
	}
	return Recommendation{Component: "drivetrain", Priority: PriorityLow, Message: msg}, true
}

// Generator maps trend and anomaly outputs to advisories.
type Generator struct {
	tempRateThreshold float64
	limit             int
}

// NewGenerator creates a Generator tuned from cfg.
func NewGenerator(cfg *config.TuningConfig) *Generator {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &Generator{
		tempRateThreshold: cfg.GetTempRateThreshold(),
		limit:             cfg.GetRecommendationLimit(),
	}
}

var priorityRank = map[Priority]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// Generate produces at most the configured number of advisories, highest
// priority first. With nothing actionable it returns the single nominal
// message.
func (g *Generator) Generate(trends map[string]TrendResult, anomalies []AnomalyRecord) []Recommendation {
	var recs []Recommendation

	// Rising temperature channels warrant inspection before they breach
	// any statistical threshold.
	channels := make([]string, 0, len(trends))
	for ch := range trends {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	for _, ch := range channels {
		tr := trends[ch]
		if ChannelClass(ch) != ClassTemperature {
			continue
		}
		if tr.Direction == TrendIncreasing && tr.Rate > g.tempRateThreshold {
			recs = append(recs, Recommendation{
				Component: Component(ch),
				Priority:  PriorityMedium,
				Message:   fmt.Sprintf("%s temperature rising at %.2f/sample, inspect %s cooling", Component(ch), tr.Rate, Component(ch)),
			})
		}
	}

	for _, a := range anomalies {
		if a.Severity != SeverityHigh && a.Severity != SeverityCritical {
			continue
		}
		recs = append(recs, Recommendation{
			Component: a.Component,
			Priority:  PriorityHigh,
			Message:   fmt.Sprintf("%s anomaly on %s (%s severity): %s", a.Component, a.Metric, a.Severity, a.Message),
		})
	}

	if len(recs) == 0 {
		return []Recommendation{{
			Component: "system",
			Priority:  PriorityLow,
			Message:   NominalMessage,
		}}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return priorityRank[recs[i].Priority] < priorityRank[recs[j].Priority]
	})
	if len(recs) > g.limit {
		recs = recs[:g.limit]
	}
	return recs
}
