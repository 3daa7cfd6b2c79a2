package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveline-data/driveline/internal/analysis"
	"github.com/driveline-data/driveline/internal/telemetry"
)

func TestFinalReportAggregates(t *testing.T) {
	s, clock := newMockSession(t, "city")
	require.NoError(t, s.Start())

	advanceUntil(t, clock, time.Second, func() bool {
		snap := s.Snapshot()
		return snap.Ticks >= 20 && snap.AnalysisPasses >= 5
	})

	report, err := s.Stop()
	require.NoError(t, err)

	assert.Equal(t, s.ID, report.SessionID)
	assert.Equal(t, "city", report.ModeID)
	assert.GreaterOrEqual(t, report.Ticks, uint64(20))
	assert.GreaterOrEqual(t, report.AnalysisPasses, uint64(5))
	assert.True(t, report.StoppedAt.After(report.StartedAt))

	require.Contains(t, report.Channels, telemetry.ChannelSpeed)
	speed := report.Channels[telemetry.ChannelSpeed]
	assert.Equal(t, int(min64(report.Ticks, 100)), speed.Samples)
	assert.GreaterOrEqual(t, speed.Max, speed.Mean)
	assert.LessOrEqual(t, speed.Min, speed.Mean)

	assert.GreaterOrEqual(t, report.EfficiencyScore, 0.0)
	assert.LessOrEqual(t, report.EfficiencyScore, 100.0)
	assert.LessOrEqual(t, report.FinalBatteryPct, 100.0)
	assert.NotNil(t, report.AnomalyCounts)
}

func TestReportIncludesModeAdvisory(t *testing.T) {
	s, _ := newMockSession(t, "eco")
	require.NoError(t, s.Start())
	report, err := s.Stop()
	require.NoError(t, err)

	want, ok := analysis.ModeAdvisory("eco")
	require.True(t, ok)
	found := false
	for _, r := range report.Recommendations {
		if r.Message == want.Message {
			found = true
		}
	}
	assert.True(t, found, "mode advisory missing from report recommendations")
}

func TestReportCarriesWarningsAndDiagErrors(t *testing.T) {
	s, clock := newMockSession(t, "city")
	require.NoError(t, s.Start())

	s.SetMode("warp") // records a warning
	advanceUntil(t, clock, 200*time.Millisecond, func() bool {
		return s.Snapshot().Ticks >= 3
	})
	s.RunDiagnostics()

	report, err := s.Stop()
	require.NoError(t, err)
	assert.NotEmpty(t, report.Warnings)
	// A healthy run records no diagnostic failures, but the field must
	// reflect whatever the sequence collected.
	assert.Equal(t, len(s.diagErrors), len(report.DiagErrors))
}

func min64(a uint64, b int) uint64 {
	if a < uint64(b) {
		return a
	}
	return uint64(b)
}
