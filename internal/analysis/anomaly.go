package analysis

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/driveline-data/driveline/internal/config"
	"github.com/driveline-data/driveline/internal/telemetry"
)

// Severity classifies an anomaly's magnitude.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PolicyKind selects how a metric is checked.
type PolicyKind string

const (
	// PolicyStatistical flags samples deviating from the window's mean by
	// more than the configured number of standard deviations.
	PolicyStatistical PolicyKind = "statistical"

	// PolicyFixed flags samples breaching an absolute floor or ceiling.
	// Used where statistical baselining is inappropriate, such as an
	// efficiency that must never fall below a hard floor.
	PolicyFixed PolicyKind = "fixed"
)

// MetricClass groups channels for recommendation rules.
type MetricClass string

const (
	ClassTemperature MetricClass = "temperature"
	ClassEnergy      MetricClass = "energy"
	ClassKinematic   MetricClass = "kinematic"
	ClassElectrical  MetricClass = "electrical"
)

// Policy is one metric's check configuration.
type Policy struct {
	Kind  PolicyKind
	Class MetricClass

	// Sigma overrides the configured deviation threshold for statistical
	// policies when positive.
	Sigma float64

	// Floor/Ceiling bound fixed policies. NaN disables a bound.
	Floor   float64
	Ceiling float64

	// FixedSeverity is the severity reported on a fixed-rule breach.
	FixedSeverity Severity
}

// AnomalyRecord describes one flagged deviation.
type AnomalyRecord struct {
	Component string    `json:"component"`
	Metric    string    `json:"metric"`
	Observed  float64   `json:"observed"`
	Mean      float64   `json:"mean"`
	Deviation float64   `json:"deviation"` // |observed-mean| in sigmas; 0 for fixed rules
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultPolicies is the per-metric policy table. Channels not listed
// here fall back to a plain statistical check with kinematic class.
var DefaultPolicies = map[string]Policy{
	telemetry.ChannelSpeed:        {Kind: PolicyStatistical, Class: ClassKinematic},
	telemetry.ChannelAcceleration: {Kind: PolicyStatistical, Class: ClassKinematic},
	telemetry.ChannelRegenPower:   {Kind: PolicyStatistical, Class: ClassEnergy},
	telemetry.ChannelBatteryVolt:  {Kind: PolicyStatistical, Class: ClassElectrical},
	telemetry.ChannelBatteryTemp:  {Kind: PolicyStatistical, Class: ClassTemperature},
	telemetry.ChannelBatteryCurr:  {Kind: PolicyStatistical, Class: ClassElectrical},
	telemetry.ChannelBatteryLevel: {
		Kind:          PolicyFixed,
		Class:         ClassEnergy,
		Floor:         10,
		Ceiling:       math.NaN(),
		FixedSeverity: SeverityMedium,
	},
	telemetry.ChannelConsumption:  {Kind: PolicyStatistical, Class: ClassEnergy},
	telemetry.ChannelMotorTemp:    {Kind: PolicyStatistical, Class: ClassTemperature},
	telemetry.ChannelMotorSpeed:   {Kind: PolicyStatistical, Class: ClassKinematic},
	telemetry.ChannelMotorTorque:  {Kind: PolicyStatistical, Class: ClassKinematic},
	telemetry.ChannelMotorPower:   {Kind: PolicyStatistical, Class: ClassEnergy},
	telemetry.ChannelInverterEff: {
		Kind:          PolicyFixed,
		Class:         ClassElectrical,
		Floor:         0.85,
		Ceiling:       math.NaN(),
		FixedSeverity: SeverityMedium,
	},
	telemetry.ChannelInverterTemp: {Kind: PolicyStatistical, Class: ClassTemperature},
	telemetry.ChannelInverterPow:  {Kind: PolicyStatistical, Class: ClassEnergy},
}

// Component maps a channel name to the subsystem it belongs to.
func Component(channel string) string {
	switch {
	case strings.HasPrefix(channel, "battery_"), channel == telemetry.ChannelConsumption:
		return "battery"
	case strings.HasPrefix(channel, "motor_"):
		return "motor"
	case strings.HasPrefix(channel, "inverter_"):
		return "inverter"
	default:
		return "drivetrain"
	}
}

// ChannelClass returns the metric class for a channel per the policy table.
func ChannelClass(channel string) MetricClass {
	if p, ok := DefaultPolicies[channel]; ok {
		return p.Class
	}
	return ClassKinematic
}

// Detector runs the per-metric anomaly checks.
type Detector struct {
	sigma      float64
	minSamples int
	policies   map[string]Policy
}

// NewDetector creates a Detector using the default policy table.
func NewDetector(cfg *config.TuningConfig) *Detector {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &Detector{
		sigma:      cfg.GetAnomalySigma(),
		minSamples: cfg.GetAnomalyMinSamples(),
		policies:   DefaultPolicies,
	}
}

// classify maps a deviation in sigmas to a severity. Breakpoints at 2, 3
// and 4 sigma.
func classify(deviation float64) Severity {
	switch {
	case deviation > 4:
		return SeverityCritical
	case deviation > 3:
		return SeverityHigh
	case deviation > 2:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Check runs the channel's policy against its series and returns a record
// when the latest sample is anomalous, or nil. Breaches are reported,
// never fatal.
func (d *Detector) Check(channel string, series []float64, now time.Time) *AnomalyRecord {
	if len(series) == 0 {
		return nil
	}
	policy, ok := d.policies[channel]
	if !ok {
		policy = Policy{Kind: PolicyStatistical, Class: ClassKinematic}
	}

	latest := series[len(series)-1]

	switch policy.Kind {
	case PolicyFixed:
		return d.checkFixed(channel, policy, latest, now)
	default:
		return d.checkStatistical(channel, policy, series, latest, now)
	}
}

func (d *Detector) checkStatistical(channel string, policy Policy, series []float64, latest float64, now time.Time) *AnomalyRecord {
	if len(series) < d.minSamples {
		return nil
	}

	mean := stat.Mean(series, nil)
	sd := math.Sqrt(stat.PopVariance(series, nil))
	if sd == 0 {
		return nil
	}

	sigma := d.sigma
	if policy.Sigma > 0 {
		sigma = policy.Sigma
	}

	deviation := math.Abs(latest-mean) / sd
	if deviation <= sigma {
		return nil
	}

	return &AnomalyRecord{
		Component: Component(channel),
		Metric:    channel,
		Observed:  latest,
		Mean:      mean,
		Deviation: deviation,
		Severity:  classify(deviation),
		Message:   fmt.Sprintf("%s deviates %.1fσ from its rolling mean (%.2f vs %.2f)", channel, deviation, latest, mean),
		Timestamp: now,
	}
}

func (d *Detector) checkFixed(channel string, policy Policy, latest float64, now time.Time) *AnomalyRecord {
	severity := policy.FixedSeverity
	if severity == "" {
		severity = SeverityMedium
	}

	var message string
	switch {
	case !math.IsNaN(policy.Floor) && latest < policy.Floor:
		message = fmt.Sprintf("%s below floor: %.2f < %.2f", channel, latest, policy.Floor)
	case !math.IsNaN(policy.Ceiling) && latest > policy.Ceiling:
		message = fmt.Sprintf("%s above ceiling: %.2f > %.2f", channel, latest, policy.Ceiling)
	default:
		return nil
	}

	return &AnomalyRecord{
		Component: Component(channel),
		Metric:    channel,
		Observed:  latest,
		Severity:  severity,
		Message:   message,
		Timestamp: now,
	}
}
