package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveline-data/driveline/internal/telemetry"
)

// baseline returns n samples alternating mean±1, so the population mean
// is exactly mean and the population stddev exactly 1.
func baseline(mean float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = mean - 1
		} else {
			out[i] = mean + 1
		}
	}
	return out
}

func TestStatisticalSeverityBreakpoints(t *testing.T) {
	d := NewDetector(nil)
	now := time.Now()

	tests := []struct {
		name         string
		latest       float64
		wantSeverity Severity
	}{
		{"within threshold", 51.5, ""},
		{"medium deviation", 53.0, SeverityMedium},
		{"high deviation", 53.6, SeverityHigh},
		{"critical deviation", 55.0, SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := append(baseline(50, 100), tt.latest)
			rec := d.Check(telemetry.ChannelMotorTemp, series, now)

			if tt.wantSeverity == "" {
				assert.Nil(t, rec, "no anomaly expected")
				return
			}
			require.NotNil(t, rec, "anomaly expected")
			assert.Equal(t, tt.wantSeverity, rec.Severity)
			assert.Equal(t, "motor", rec.Component)
			assert.Equal(t, telemetry.ChannelMotorTemp, rec.Metric)
			assert.Equal(t, tt.latest, rec.Observed)
			assert.Greater(t, rec.Deviation, 2.5)
		})
	}
}

func TestFiveSigmaInjectionIsCritical(t *testing.T) {
	d := NewDetector(nil)

	// Known μ=50, σ=1; inject μ+5σ.
	series := append(baseline(50, 100), 55)
	rec := d.Check(telemetry.ChannelSpeed, series, time.Now())

	require.NotNil(t, rec)
	assert.Equal(t, SeverityCritical, rec.Severity)
}

func TestZeroVarianceNeverFlags(t *testing.T) {
	d := NewDetector(nil)
	series := make([]float64, 50)
	for i := range series {
		series[i] = 42
	}
	assert.Nil(t, d.Check(telemetry.ChannelSpeed, series, time.Now()))
}

func TestStatisticalNeedsMinimumSamples(t *testing.T) {
	d := NewDetector(nil)
	assert.Nil(t, d.Check(telemetry.ChannelSpeed, []float64{1, 100}, time.Now()))
}

func TestFixedFloorBreach(t *testing.T) {
	d := NewDetector(nil)

	// Inverter efficiency holds a fixed floor of 0.85 regardless of its
	// own rolling statistics.
	rec := d.Check(telemetry.ChannelInverterEff, []float64{0.95, 0.94, 0.80}, time.Now())
	require.NotNil(t, rec)
	assert.Equal(t, SeverityMedium, rec.Severity)
	assert.Equal(t, "inverter", rec.Component)
	assert.Zero(t, rec.Deviation)

	assert.Nil(t, d.Check(telemetry.ChannelInverterEff, []float64{0.95, 0.94, 0.93}, time.Now()),
		"efficiency above floor must not flag")
}

func TestBatteryLevelFloor(t *testing.T) {
	d := NewDetector(nil)
	rec := d.Check(telemetry.ChannelBatteryLevel, []float64{12, 11, 9.5}, time.Now())
	require.NotNil(t, rec)
	assert.Equal(t, SeverityMedium, rec.Severity)
	assert.Equal(t, "battery", rec.Component)
}

func TestComponentMapping(t *testing.T) {
	tests := []struct {
		channel string
		want    string
	}{
		{telemetry.ChannelBatteryVolt, "battery"},
		{telemetry.ChannelConsumption, "battery"},
		{telemetry.ChannelMotorTemp, "motor"},
		{telemetry.ChannelInverterPow, "inverter"},
		{telemetry.ChannelSpeed, "drivetrain"},
		{telemetry.ChannelRegenPower, "drivetrain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Component(tt.channel), "channel %s", tt.channel)
	}
}
