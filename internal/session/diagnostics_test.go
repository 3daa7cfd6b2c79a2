package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveline-data/driveline/internal/telemetry"
)

func TestDiagnosticsWithoutTelemetry(t *testing.T) {
	s, _ := newMockSession(t, "city")

	failures := s.RunDiagnostics()
	require.Len(t, failures, 1)
	assert.Equal(t, "system", failures[0].Component)
	assert.Equal(t, "telemetry_present", failures[0].Test)
	assert.False(t, failures[0].Timestamp.IsZero())
}

func TestDiagnosticsHealthyRun(t *testing.T) {
	s, clock := newMockSession(t, "city")
	require.NoError(t, s.Start())
	defer s.Stop()

	advanceUntil(t, clock, 200*time.Millisecond, func() bool {
		return s.Snapshot().Ticks >= 20
	})

	failures := s.RunDiagnostics()
	assert.Empty(t, failures, "a short city run should pass all checks: %v", failures)
}

// Every check runs even after earlier ones fail; the sequence reports
// partial failures instead of aborting.
func TestDiagnosticsContinuesPastFailures(t *testing.T) {
	s, _ := newMockSession(t, "city")

	s.mu.Lock()
	s.lastRecord = &telemetry.Record{
		Battery: telemetry.BatteryReadings{
			Voltage:     250, // below floor
			Temperature: 70,  // above ceiling
		},
		Motor: telemetry.MotorReadings{
			Temperature: 140, // above ceiling
			Power:       30,
		},
		Inverter: telemetry.InverterReadings{
			Efficiency:  0.95,
			Temperature: 40,
		},
	}
	s.mu.Unlock()

	failures := s.RunDiagnostics()
	require.Len(t, failures, 3)

	components := make(map[string]int)
	for _, f := range failures {
		components[f.Component]++
		assert.NotEmpty(t, f.Test)
		assert.NotEmpty(t, f.Message)
	}
	assert.Equal(t, 2, components["battery"])
	assert.Equal(t, 1, components["motor"])

	// Failures accumulate on the session for the final report.
	s.mu.Lock()
	recorded := len(s.diagErrors)
	s.mu.Unlock()
	assert.Equal(t, 3, recorded)
}
