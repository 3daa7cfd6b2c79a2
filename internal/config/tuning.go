package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Stop behavior values accepted by stop_behavior.
const (
	StopBehaviorFreeze = "freeze"
	StopBehaviorDecay  = "decay"
)

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/session/params endpoint so the same JSON
// can be used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Session cadence params
	TickInterval     *string `json:"tick_interval,omitempty"`     // duration string like "200ms"
	AnalysisInterval *string `json:"analysis_interval,omitempty"` // duration string like "1s"

	// Simulation params
	StopBehavior     *string  `json:"stop_behavior,omitempty"` // "freeze" or "decay"
	StopDecayRate    *float64 `json:"stop_decay_rate,omitempty"`
	TargetJitter     *float64 `json:"target_jitter,omitempty"`
	EventProbability *float64 `json:"event_probability,omitempty"` // per-tick chance of a driving event, 0 disables

	// Telemetry synthesis params
	RegenThreshold  *float64 `json:"regen_threshold,omitempty"`
	RegenPowerScale *float64 `json:"regen_power_scale,omitempty"`

	// Analysis params
	BufferCapacity       *int     `json:"buffer_capacity,omitempty"`
	AnomalySigma         *float64 `json:"anomaly_sigma,omitempty"`
	TrendRateThreshold   *float64 `json:"trend_rate_threshold,omitempty"`
	TempRateThreshold    *float64 `json:"temp_rate_threshold,omitempty"`
	RecommendationLimit  *int     `json:"recommendation_limit,omitempty"`
	TrendSampleCount     *int     `json:"trend_sample_count,omitempty"`
	AnomalyMinSamples    *int     `json:"anomaly_min_samples,omitempty"`
	PersistInterval      *string  `json:"persist_interval,omitempty"` // duration string like "5s"
	PersistenceBatchSize *int     `json:"persistence_batch_size,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, field := range map[string]*string{
		"tick_interval":     c.TickInterval,
		"analysis_interval": c.AnalysisInterval,
		"persist_interval":  c.PersistInterval,
	} {
		if field != nil && *field != "" {
			if _, err := time.ParseDuration(*field); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
			}
		}
	}

	if c.StopBehavior != nil {
		if *c.StopBehavior != StopBehaviorFreeze && *c.StopBehavior != StopBehaviorDecay {
			return fmt.Errorf("stop_behavior must be %q or %q, got %q",
				StopBehaviorFreeze, StopBehaviorDecay, *c.StopBehavior)
		}
	}

	if c.StopDecayRate != nil {
		if *c.StopDecayRate <= 0 || *c.StopDecayRate >= 1 {
			return fmt.Errorf("stop_decay_rate must be between 0 and 1 exclusive, got %f", *c.StopDecayRate)
		}
	}

	if c.EventProbability != nil {
		if *c.EventProbability < 0 || *c.EventProbability > 1 {
			return fmt.Errorf("event_probability must be between 0 and 1, got %f", *c.EventProbability)
		}
	}

	if c.BufferCapacity != nil {
		if *c.BufferCapacity < 1 {
			return fmt.Errorf("buffer_capacity must be positive, got %d", *c.BufferCapacity)
		}
	}

	if c.AnomalySigma != nil {
		if *c.AnomalySigma <= 0 {
			return fmt.Errorf("anomaly_sigma must be positive, got %f", *c.AnomalySigma)
		}
	}

	if c.RecommendationLimit != nil {
		if *c.RecommendationLimit < 1 {
			return fmt.Errorf("recommendation_limit must be positive, got %d", *c.RecommendationLimit)
		}
	}

	if c.TrendSampleCount != nil {
		if *c.TrendSampleCount < 2 {
			return fmt.Errorf("trend_sample_count must be at least 2, got %d", *c.TrendSampleCount)
		}
	}

	return nil
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *TuningConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 200 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil {
		return 200 * time.Millisecond // default on parse error
	}
	return d
}

// GetAnalysisInterval parses and returns the AnalysisInterval as a time.Duration.
func (c *TuningConfig) GetAnalysisInterval() time.Duration {
	if c.AnalysisInterval == nil || *c.AnalysisInterval == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.AnalysisInterval)
	if err != nil {
		return time.Second // default on parse error
	}
	return d
}

// GetPersistInterval parses and returns the PersistInterval as a time.Duration.
func (c *TuningConfig) GetPersistInterval() time.Duration {
	if c.PersistInterval == nil || *c.PersistInterval == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.PersistInterval)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetStopBehavior returns the stop_behavior value or the default.
func (c *TuningConfig) GetStopBehavior() string {
	if c.StopBehavior == nil || *c.StopBehavior == "" {
		return StopBehaviorFreeze // default: hold last kinematic state
	}
	return *c.StopBehavior
}

// GetStopDecayRate returns the stop_decay_rate value or the default.
func (c *TuningConfig) GetStopDecayRate() float64 {
	if c.StopDecayRate == nil {
		return 0.85
	}
	return *c.StopDecayRate
}

// GetTargetJitter returns the target_jitter value or the default.
func (c *TuningConfig) GetTargetJitter() float64 {
	if c.TargetJitter == nil {
		return 1.0
	}
	return *c.TargetJitter
}

// GetEventProbability returns the event_probability value or the default.
// Events are off by default so seeded runs follow the mode trajectory
// exactly; tuning files opt in.
func (c *TuningConfig) GetEventProbability() float64 {
	if c.EventProbability == nil {
		return 0
	}
	return *c.EventProbability
}

// GetRegenThreshold returns the regen_threshold value or the default.
func (c *TuningConfig) GetRegenThreshold() float64 {
	if c.RegenThreshold == nil {
		return -0.3 // m/s² of deceleration before regen engages
	}
	return *c.RegenThreshold
}

// GetRegenPowerScale returns the regen_power_scale value or the default.
func (c *TuningConfig) GetRegenPowerScale() float64 {
	if c.RegenPowerScale == nil {
		return 0.6
	}
	return *c.RegenPowerScale
}

// GetBufferCapacity returns the buffer_capacity value or the default.
func (c *TuningConfig) GetBufferCapacity() int {
	if c.BufferCapacity == nil {
		return 100
	}
	return *c.BufferCapacity
}

// GetAnomalySigma returns the anomaly_sigma value or the default.
func (c *TuningConfig) GetAnomalySigma() float64 {
	if c.AnomalySigma == nil {
		return 2.5
	}
	return *c.AnomalySigma
}

// GetTrendRateThreshold returns the trend_rate_threshold value or the default.
func (c *TuningConfig) GetTrendRateThreshold() float64 {
	if c.TrendRateThreshold == nil {
		return 0.1
	}
	return *c.TrendRateThreshold
}

// GetTempRateThreshold returns the temp_rate_threshold value or the default.
func (c *TuningConfig) GetTempRateThreshold() float64 {
	if c.TempRateThreshold == nil {
		return 0.5
	}
	return *c.TempRateThreshold
}

// GetRecommendationLimit returns the recommendation_limit value or the default.
func (c *TuningConfig) GetRecommendationLimit() int {
	if c.RecommendationLimit == nil {
		return 3
	}
	return *c.RecommendationLimit
}

// GetTrendSampleCount returns the trend_sample_count value or the default.
func (c *TuningConfig) GetTrendSampleCount() int {
	if c.TrendSampleCount == nil {
		return 10
	}
	return *c.TrendSampleCount
}

// GetAnomalyMinSamples returns the anomaly_min_samples value or the default.
func (c *TuningConfig) GetAnomalyMinSamples() int {
	if c.AnomalyMinSamples == nil {
		return 5
	}
	return *c.AnomalyMinSamples
}

// GetPersistenceBatchSize returns the persistence_batch_size value or the default.
func (c *TuningConfig) GetPersistenceBatchSize() int {
	if c.PersistenceBatchSize == nil {
		return 50
	}
	return *c.PersistenceBatchSize
}
