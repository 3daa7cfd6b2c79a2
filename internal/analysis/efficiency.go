package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/driveline-data/driveline/internal/modes"
	"github.com/driveline-data/driveline/internal/telemetry"
)

// Efficiency score component weights. The score blends how well the
// driver holds the mode's speed band, how disciplined the acceleration
// inputs are, and consumption relative to the mode's reference figure.
const (
	weightSpeedFit  = 0.4
	weightAccel     = 0.3
	weightConsume   = 0.3
	speedBandMargin = 10 // km/h of grace around the mode band
)

// EfficiencyScore rates the recent driving window 0-100 against the mode
// profile. An empty window scores a neutral 100 (nothing to penalize yet).
func EfficiencyScore(w *WindowStore, profile modes.Profile) float64 {
	speeds := w.Series(telemetry.ChannelSpeed)
	accels := w.Series(telemetry.ChannelAcceleration)
	consumption := w.Series(telemetry.ChannelConsumption)
	if len(speeds) == 0 {
		return 100
	}

	// Fraction of samples inside the band (with margin).
	inBand := 0
	for _, v := range speeds {
		if v >= profile.TargetSpeed.Min-speedBandMargin && v <= profile.TargetSpeed.Max {
			inBand++
		}
	}
	speedFit := float64(inBand) / float64(len(speeds))

	// Mean |accel| relative to the mode's ceiling; gentler is better.
	accelScore := 1.0
	if len(accels) > 0 {
		abs := make([]float64, len(accels))
		for i, v := range accels {
			abs[i] = math.Abs(v)
		}
		accelScore = 1 - stat.Mean(abs, nil)/profile.Accel.Max
		accelScore = math.Min(1, math.Max(0, accelScore))
	}

	// Mean consumption against the mode reference; at or under reference
	// is perfect, double the reference is zero.
	consumeScore := 1.0
	if len(consumption) > 0 && profile.BaseConsumption > 0 {
		ratio := stat.Mean(consumption, nil) / profile.BaseConsumption
		consumeScore = math.Min(1, math.Max(0, 2-ratio))
	}

	score := 100 * (weightSpeedFit*speedFit + weightAccel*accelScore + weightConsume*consumeScore)
	return math.Min(100, math.Max(0, score))
}
