package session

import (
	"fmt"
	"time"

	"github.com/driveline-data/driveline/internal/telemetry"
)

// DiagError is a structured failure from the diagnostics sequence.
type DiagError struct {
	Component string    `json:"component"`
	Test      string    `json:"test"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// diagCheck is one step of the sequence. It returns a message when the
// check fails and the empty string otherwise.
type diagCheck struct {
	component string
	name      string
	check     func(rec telemetry.Record, soc float64) string
}

// diagChecks is the standard sequence. Limits mirror the subsystem
// synthesis model's plausible envelope.
var diagChecks = []diagCheck{
	{"battery", "voltage_range", func(rec telemetry.Record, _ float64) string {
		if rec.Battery.Voltage < 280 || rec.Battery.Voltage > 420 {
			return fmt.Sprintf("pack voltage %.1fV outside [280, 420]", rec.Battery.Voltage)
		}
		return ""
	}},
	{"battery", "charge_floor", func(_ telemetry.Record, soc float64) string {
		if soc < 5 {
			return fmt.Sprintf("state of charge %.1f%% below 5%% reserve", soc)
		}
		return ""
	}},
	{"battery", "temperature_ceiling", func(rec telemetry.Record, _ float64) string {
		if rec.Battery.Temperature > 55 {
			return fmt.Sprintf("pack temperature %.1f°C above 55°C", rec.Battery.Temperature)
		}
		return ""
	}},
	{"motor", "temperature_ceiling", func(rec telemetry.Record, _ float64) string {
		if rec.Motor.Temperature > 110 {
			return fmt.Sprintf("motor temperature %.1f°C above 110°C", rec.Motor.Temperature)
		}
		return ""
	}},
	{"motor", "power_envelope", func(rec telemetry.Record, _ float64) string {
		if rec.Motor.Power > 120 {
			return fmt.Sprintf("motor power %.1fkW above 120kW envelope", rec.Motor.Power)
		}
		return ""
	}},
	{"inverter", "efficiency_floor", func(rec telemetry.Record, _ float64) string {
		if rec.Inverter.Efficiency < 0.8 {
			return fmt.Sprintf("inverter efficiency %.2f below 0.80", rec.Inverter.Efficiency)
		}
		return ""
	}},
	{"inverter", "temperature_ceiling", func(rec telemetry.Record, _ float64) string {
		if rec.Inverter.Temperature > 90 {
			return fmt.Sprintf("inverter temperature %.1f°C above 90°C", rec.Inverter.Temperature)
		}
		return ""
	}},
}

// RunDiagnostics executes the full check sequence against the latest
// telemetry record. Failures are recorded and returned; the sequence
// never aborts early. With no telemetry yet, a single structured error
// reports the sequence could not run.
func (s *Session) RunDiagnostics() []DiagError {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.lastRecord == nil {
		failure := DiagError{
			Component: "system",
			Test:      "telemetry_present",
			Message:   "no telemetry observed yet",
			Timestamp: now,
		}
		s.diagErrors = append(s.diagErrors, failure)
		return []DiagError{failure}
	}

	rec := *s.lastRecord
	soc := s.emitter.SoC()

	var failures []DiagError
	for _, c := range diagChecks {
		msg := c.check(rec, soc)
		if msg == "" {
			continue
		}
		failures = append(failures, DiagError{
			Component: c.component,
			Test:      c.name,
			Message:   msg,
			Timestamp: now,
		})
	}
	s.diagErrors = append(s.diagErrors, failures...)
	return failures
}
