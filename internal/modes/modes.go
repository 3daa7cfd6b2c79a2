// Package modes holds the driving-mode profile registry.
//
// A profile is the full parameter set governing one driving style: the
// target speed band the simulator steers toward, the acceleration bounds
// and baseline pattern, the smoothing behavior, and the energy reference
// values used by telemetry synthesis. Profiles are static data; the
// registry is read-only after init.
package modes

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultModeID is the profile used when a requested mode id is unknown.
const DefaultModeID = "city"

// ErrUnknownMode is returned (wrapped) by Lookup when the requested id is
// not registered. Callers receive the default profile alongside it, so the
// error is advisory rather than fatal.
var ErrUnknownMode = errors.New("unknown driving mode")

// SpeedBand is a target speed range in km/h. The simulator reseeds its
// target around Ideal and clamps to [Min, Max].
type SpeedBand struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Ideal float64 `json:"ideal"`
}

// AccelBounds limits instantaneous acceleration in m/s². Min is negative
// (braking), Max positive.
type AccelBounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Profile is one driving mode's complete parameter set.
type Profile struct {
	ID    string `json:"id"`
	Label string `json:"label"`

	TargetSpeed SpeedBand   `json:"target_speed"`
	Accel       AccelBounds `json:"accel"`

	// Smoothing is the exponential smoothing factor applied to each new
	// acceleration sample, in (0, 1]. Higher values react faster.
	Smoothing float64 `json:"smoothing"`

	// TransitionRate converts smoothed acceleration (m/s²) into a per-tick
	// speed delta (km/h). It folds the tick duration and the mode's pace
	// into a single multiplier.
	TransitionRate float64 `json:"transition_rate"`

	// TargetVariance is the half-range (km/h) of the jitter drawn when the
	// target speed is reseeded.
	TargetVariance float64 `json:"target_variance"`

	// Pattern is the cyclic baseline acceleration sequence (m/s²). It must
	// be non-empty.
	Pattern []float64 `json:"pattern"`

	// PatternAdvanceEvery and TargetReseedEvery are tick intervals.
	PatternAdvanceEvery int `json:"pattern_advance_every"`
	TargetReseedEvery   int `json:"target_reseed_every"`

	// Energy reference values used by telemetry synthesis.
	BaseConsumption float64 `json:"base_consumption"` // kWh/100km
	RegenFactor     float64 `json:"regen_factor"`     // fraction of braking energy recovered
}

// Validate checks that the profile parameters are internally consistent.
func (p Profile) Validate() error {
	if p.ID == "" {
		return errors.New("profile id must not be empty")
	}
	if p.TargetSpeed.Min < 0 || p.TargetSpeed.Max <= p.TargetSpeed.Min {
		return fmt.Errorf("profile %s: target speed band [%v, %v] is invalid", p.ID, p.TargetSpeed.Min, p.TargetSpeed.Max)
	}
	if p.TargetSpeed.Ideal < p.TargetSpeed.Min || p.TargetSpeed.Ideal > p.TargetSpeed.Max {
		return fmt.Errorf("profile %s: ideal speed %v outside band [%v, %v]", p.ID, p.TargetSpeed.Ideal, p.TargetSpeed.Min, p.TargetSpeed.Max)
	}
	if p.Accel.Min >= 0 || p.Accel.Max <= 0 {
		return fmt.Errorf("profile %s: accel bounds [%v, %v] must straddle zero", p.ID, p.Accel.Min, p.Accel.Max)
	}
	if p.Smoothing <= 0 || p.Smoothing > 1 {
		return fmt.Errorf("profile %s: smoothing %v must be in (0, 1]", p.ID, p.Smoothing)
	}
	if p.TransitionRate <= 0 {
		return fmt.Errorf("profile %s: transition rate %v must be positive", p.ID, p.TransitionRate)
	}
	if len(p.Pattern) == 0 {
		return fmt.Errorf("profile %s: pattern must not be empty", p.ID)
	}
	if p.PatternAdvanceEvery < 1 || p.TargetReseedEvery < 1 {
		return fmt.Errorf("profile %s: pattern/reseed intervals must be at least 1 tick", p.ID)
	}
	if p.RegenFactor < 0 || p.RegenFactor > 1 {
		return fmt.Errorf("profile %s: regen factor %v must be in [0, 1]", p.ID, p.RegenFactor)
	}
	return nil
}

// registry holds the active profiles. It starts as the built-in table and
// may be replaced once at startup by LoadOverrides, before any session
// runs; after that it is read-only.
var registry = builtins

// builtins holds the registered profiles. Speed bands and energy values
// follow production EV driving-mode tables; acceleration patterns encode
// the characteristic rhythm of each style (stop-and-go for city, sustained
// cruise for highway).
var builtins = map[string]Profile{
	"eco": {
		ID:    "eco",
		Label: "Eco",
		TargetSpeed: SpeedBand{
			Min:   30,
			Max:   90,
			Ideal: 60,
		},
		Accel:               AccelBounds{Min: -2.0, Max: 1.0},
		Smoothing:           0.15,
		TransitionRate:      0.58,
		TargetVariance:      5,
		Pattern:             []float64{0.3, 0.5, 0.1, -0.2, -0.4, 0.0},
		PatternAdvanceEvery: 8,
		TargetReseedEvery:   40,
		BaseConsumption:     13,
		RegenFactor:         0.5,
	},
	"city": {
		ID:    "city",
		Label: "City",
		TargetSpeed: SpeedBand{
			Min:   10,
			Max:   60,
			Ideal: 35,
		},
		Accel:               AccelBounds{Min: -3.0, Max: 2.0},
		Smoothing:           0.3,
		TransitionRate:      0.72,
		TargetVariance:      10,
		Pattern:             []float64{0.8, 1.5, 0.3, -0.5, -1.2, 0.0, 1.0, -1.9},
		PatternAdvanceEvery: 5,
		TargetReseedEvery:   25,
		BaseConsumption:     16,
		RegenFactor:         0.4,
	},
	"sport": {
		ID:    "sport",
		Label: "Sport",
		TargetSpeed: SpeedBand{
			Min:   50,
			Max:   150,
			Ideal: 90,
		},
		Accel:               AccelBounds{Min: -4.5, Max: 4.0},
		Smoothing:           0.5,
		TransitionRate:      1.08,
		TargetVariance:      15,
		Pattern:             []float64{2.5, 3.5, 1.0, -1.5, -3.0, 2.0},
		PatternAdvanceEvery: 3,
		TargetReseedEvery:   15,
		BaseConsumption:     25,
		RegenFactor:         0.2,
	},
	"highway": {
		ID:    "highway",
		Label: "Highway",
		TargetSpeed: SpeedBand{
			Min:   80,
			Max:   130,
			Ideal: 110,
		},
		Accel:               AccelBounds{Min: -2.5, Max: 1.5},
		Smoothing:           0.2,
		TransitionRate:      0.86,
		TargetVariance:      8,
		Pattern:             []float64{0.4, 0.2, 0.0, -0.2, 0.1, -0.1},
		PatternAdvanceEvery: 10,
		TargetReseedEvery:   50,
		BaseConsumption:     21,
		RegenFactor:         0.1,
	},
}

// Lookup returns the profile for id. Unknown ids return the default
// profile and a wrapped ErrUnknownMode; the caller can log the warning
// and continue.
func Lookup(id string) (Profile, error) {
	if p, ok := registry[id]; ok {
		return p, nil
	}
	return registry[DefaultModeID], fmt.Errorf("%w: %q (using %q)", ErrUnknownMode, id, DefaultModeID)
}

// Default returns the default profile.
func Default() Profile {
	return registry[DefaultModeID]
}

// IDs returns the registered mode ids in sorted order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns every registered profile, ordered by id.
func All() []Profile {
	out := make([]Profile, 0, len(registry))
	for _, id := range IDs() {
		out = append(out, registry[id])
	}
	return out
}

// LoadOverrides reads a JSON file of profiles keyed by id and merges them
// over the built-in table, replacing the active registry. Each supplied
// profile fully replaces the built-in with the same id; new ids are added.
// All supplied profiles are validated before any are applied. Call this at
// startup only, before sessions exist.
func LoadOverrides(path string) error {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return fmt.Errorf("profile overrides must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read profile overrides: %w", err)
	}

	var overrides map[string]Profile
	if err := json.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("failed to parse profile overrides: %w", err)
	}

	merged := make(map[string]Profile, len(builtins)+len(overrides))
	for id, p := range builtins {
		merged[id] = p
	}
	for id, p := range overrides {
		if p.ID == "" {
			p.ID = id
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid profile override: %w", err)
		}
		merged[id] = p
	}
	if _, ok := merged[DefaultModeID]; !ok {
		return fmt.Errorf("profile overrides must keep default mode %q", DefaultModeID)
	}
	registry = merged
	return nil
}
