// Package sim implements the tick-driven kinematic simulator.
//
// The simulator is a pure state machine: Tick advances it exactly one
// step and nothing here touches the wall clock or schedules anything.
// Cadence lives with the caller, which lets tests drive the simulator
// as fast as they like and makes runs reproducible through the seeded
// random source.
package sim

import (
	"math"
	"math/rand"

	"github.com/driveline-data/driveline/internal/config"
	"github.com/driveline-data/driveline/internal/modes"
)

// Blend constants from the trajectory correction step. When the gap to
// the target speed exceeds blendGapThreshold km/h, the pattern value is
// mixed with a correction term proportional to the gap so the trajectory
// re-centers on the mode's target band instead of drifting.
const (
	blendGapThreshold  = 10.0
	blendPatternWeight = 0.3
	blendCorrectWeight = 0.7
	correctionGain     = 0.05
)

// stopSpeedFloor is the speed below which decay snaps to zero.
const stopSpeedFloor = 0.5

// State is a read-only snapshot of the simulator after a tick.
type State struct {
	ModeID       string  `json:"mode_id"`
	Speed        float64 `json:"speed"`        // km/h
	Acceleration float64 `json:"acceleration"` // m/s²
	TargetSpeed  float64 `json:"target_speed"` // km/h
	PatternIndex int     `json:"pattern_index"`
	Tick         uint64  `json:"tick"`
	Running      bool    `json:"running"`

	// Event is the name of the driving event in effect, empty when none.
	// ConsumptionScale is that event's consumption multiplier (1 when no
	// event is active).
	Event            string  `json:"event,omitempty"`
	ConsumptionScale float64 `json:"consumption_scale"`
}

// Simulator generates a physically plausible speed/acceleration trajectory
// for the active driving mode. It is not safe for concurrent use; the
// owning session serializes access.
type Simulator struct {
	cfg    *config.TuningConfig
	rng    *rand.Rand
	events *eventEngine

	profile      modes.Profile
	speed        float64
	accel        float64
	targetSpeed  float64
	patternIndex int
	tickCount    uint64
	running      bool

	eventName  string
	eventScale float64
}

// New creates a Simulator for the given profile. The random source drives
// target-speed jitter only; pass a seeded rand.New(rand.NewSource(seed))
// for reproducible runs.
func New(profile modes.Profile, rng *rand.Rand, cfg *config.TuningConfig) *Simulator {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	s := &Simulator{
		cfg:         cfg,
		rng:         rng,
		profile:     profile,
		targetSpeed: profile.TargetSpeed.Ideal,
		eventScale:  1,
	}
	// The engine gets a source derived from the main rng so event rolls
	// never perturb the target-jitter sequence, and runs with events
	// disabled draw nothing extra at all.
	if p := cfg.GetEventProbability(); p > 0 {
		s.events = newEventEngine(rand.New(rand.NewSource(rng.Int63())), p)
	}
	return s
}

// Profile returns the active mode profile.
func (s *Simulator) Profile() modes.Profile {
	return s.profile
}

// State returns a snapshot of the current simulator state.
func (s *Simulator) State() State {
	return State{
		ModeID:           s.profile.ID,
		Speed:            s.speed,
		Acceleration:     s.accel,
		TargetSpeed:      s.targetSpeed,
		PatternIndex:     s.patternIndex,
		Tick:             s.tickCount,
		Running:          s.running,
		Event:            s.eventName,
		ConsumptionScale: s.eventScale,
	}
}

// Start begins a run: the tick counter and pattern position reset, the
// target reseeds from the profile ideal, and subsequent Tick calls mutate
// state. Speed is left as-is so a restarted session resumes from where
// the previous one stopped.
func (s *Simulator) Start() {
	s.tickCount = 0
	s.patternIndex = 0
	s.targetSpeed = clamp(s.profile.TargetSpeed.Ideal, s.profile.TargetSpeed.Min, s.profile.TargetSpeed.Max)
	s.eventName = ""
	s.eventScale = 1
	if s.events != nil {
		s.events.reset()
	}
	s.running = true
}

// Stop zeroes acceleration and halts the state machine. Further Tick
// calls leave state unchanged under the default freeze behavior; under
// decay, a stopped simulator bleeds speed toward zero each Tick for
// callers that keep scheduling it.
func (s *Simulator) Stop() {
	s.accel = 0
	s.running = false
}

// SetMode switches the active profile. Speed is preserved so the
// trajectory stays continuous; the pattern restarts and the target
// recomputes from the new profile's ideal. An unknown id falls back to
// the default mode and returns modes.ErrUnknownMode wrapped, which the
// caller should treat as a warning.
func (s *Simulator) SetMode(id string) error {
	profile, err := modes.Lookup(id)
	s.profile = profile
	s.patternIndex = 0
	s.targetSpeed = clamp(profile.TargetSpeed.Ideal, profile.TargetSpeed.Min, profile.TargetSpeed.Max)
	return err
}

// Tick advances the simulation one step and returns the resulting state.
// When stopped it is a no-op under freeze, or a pure speed decay under
// the decay behavior.
func (s *Simulator) Tick() State {
	if !s.running {
		if s.cfg.GetStopBehavior() == config.StopBehaviorDecay && s.speed > 0 {
			s.speed *= s.cfg.GetStopDecayRate()
			if s.speed < stopSpeedFloor {
				s.speed = 0
			}
		}
		return s.State()
	}

	s.tickCount++

	if s.tickCount%uint64(s.profile.TargetReseedEvery) == 0 {
		s.reseedTarget()
	}
	if s.tickCount%uint64(s.profile.PatternAdvanceEvery) == 0 {
		s.patternIndex = (s.patternIndex + 1) % len(s.profile.Pattern)
	}

	speedDiff := s.targetSpeed - s.speed
	baseAccel := s.profile.Pattern[s.patternIndex]
	if math.Abs(speedDiff) > blendGapThreshold {
		baseAccel = baseAccel*blendPatternWeight + (speedDiff*correctionGain)*blendCorrectWeight
	}

	newAccel := s.accel*(1-s.profile.Smoothing) + baseAccel*s.profile.Smoothing
	s.accel = clamp(newAccel, s.profile.Accel.Min, s.profile.Accel.Max)

	s.speed = clamp(s.speed+s.accel*s.profile.TransitionRate, 0, s.profile.TargetSpeed.Max)

	if s.events != nil {
		if ev, ok := s.events.tick(s.profile.ID); ok {
			s.speed = clamp(s.speed*ev.SpeedFactor+ev.SpeedDelta, 0, s.profile.TargetSpeed.Max)
			s.eventName = ev.Name
			s.eventScale = ev.ConsumptionScale
		} else {
			s.eventName = ""
			s.eventScale = 1
		}
	}

	return s.State()
}

// reseedTarget draws a fresh jitter around the profile ideal and clamps
// the result into the mode's band.
func (s *Simulator) reseedTarget() {
	variance := (s.rng.Float64()*2 - 1) * s.profile.TargetVariance * s.cfg.GetTargetJitter()
	s.targetSpeed = clamp(s.profile.TargetSpeed.Ideal+variance, s.profile.TargetSpeed.Min, s.profile.TargetSpeed.Max)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
