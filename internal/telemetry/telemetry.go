// Package telemetry derives structured telemetry records from simulator
// state. Subsystem readings (battery, motor, inverter) are synthesized as
// deterministic functions of speed, acceleration, and tick, with every
// coefficient held in SynthParams rather than scattered through the code.
package telemetry

import (
	"math"
	"time"

	"github.com/driveline-data/driveline/internal/config"
	"github.com/driveline-data/driveline/internal/modes"
	"github.com/driveline-data/driveline/internal/sim"
)

// Channel names for the analysis pipeline. Every numeric reading on a
// Record maps to one channel.
const (
	ChannelSpeed        = "speed"
	ChannelAcceleration = "acceleration"
	ChannelRegenPower   = "regen_power"
	ChannelBatteryVolt  = "battery_voltage"
	ChannelBatteryTemp  = "battery_temperature"
	ChannelBatteryCurr  = "battery_current"
	ChannelBatteryLevel = "battery_level"
	ChannelConsumption  = "consumption"
	ChannelMotorTemp    = "motor_temperature"
	ChannelMotorSpeed   = "motor_speed"
	ChannelMotorTorque  = "motor_torque"
	ChannelMotorPower   = "motor_power"
	ChannelInverterEff  = "inverter_efficiency"
	ChannelInverterTemp = "inverter_temperature"
	ChannelInverterPow  = "inverter_power"
)

// BatteryReadings is the battery subsystem block of a Record.
type BatteryReadings struct {
	Voltage     float64 `json:"voltage"`     // V
	Temperature float64 `json:"temperature"` // °C
	Current     float64 `json:"current"`     // A
	Level       float64 `json:"level"`       // % state of charge
	Consumption float64 `json:"consumption"` // kWh/100km
}

// MotorReadings is the motor subsystem block of a Record.
type MotorReadings struct {
	Temperature float64 `json:"temperature"` // °C
	Speed       float64 `json:"speed"`       // rpm
	Torque      float64 `json:"torque"`      // Nm
	Power       float64 `json:"power"`       // kW
}

// InverterReadings is the inverter subsystem block of a Record.
type InverterReadings struct {
	Efficiency  float64 `json:"efficiency"`  // 0-1
	Temperature float64 `json:"temperature"` // °C
	Power       float64 `json:"power"`       // kW
}

// Record is one telemetry sample, emitted once per simulation tick.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	Tick         uint64    `json:"tick"`
	ModeID       string    `json:"mode_id"`
	Speed        float64   `json:"speed"`        // km/h
	Acceleration float64   `json:"acceleration"` // m/s²

	RegenActive bool    `json:"regen_active"`
	RegenPower  float64 `json:"regen_power"` // kW

	Battery  BatteryReadings  `json:"battery"`
	Motor    MotorReadings    `json:"motor"`
	Inverter InverterReadings `json:"inverter"`

	RangeKM float64 `json:"range_km"`
}

// Channels flattens the record's numeric readings into per-channel values
// for the rolling window store.
func (r Record) Channels() map[string]float64 {
	return map[string]float64{
		ChannelSpeed:        r.Speed,
		ChannelAcceleration: r.Acceleration,
		ChannelRegenPower:   r.RegenPower,
		ChannelBatteryVolt:  r.Battery.Voltage,
		ChannelBatteryTemp:  r.Battery.Temperature,
		ChannelBatteryCurr:  r.Battery.Current,
		ChannelBatteryLevel: r.Battery.Level,
		ChannelConsumption:  r.Battery.Consumption,
		ChannelMotorTemp:    r.Motor.Temperature,
		ChannelMotorSpeed:   r.Motor.Speed,
		ChannelMotorTorque:  r.Motor.Torque,
		ChannelMotorPower:   r.Motor.Power,
		ChannelInverterEff:  r.Inverter.Efficiency,
		ChannelInverterTemp: r.Inverter.Temperature,
		ChannelInverterPow:  r.Inverter.Power,
	}
}

// SynthParams holds every coefficient of the subsystem synthesis model.
// Values approximate a compact EV (1.5t, 52 kWh pack, 360 V nominal).
type SynthParams struct {
	MassKG             float64 // vehicle mass
	DragFactor         float64 // lumped aero drag, N per (m/s)²
	RollingForceN      float64 // constant rolling resistance
	AccessoryLoadKW    float64 // HVAC, lighting, electronics
	AmbientTempC       float64
	NominalVoltage     float64
	VoltageSagPerPct   float64 // V lost per % discharge
	VoltageSagPerAmp   float64 // V lost per A drawn
	BatteryCapacityKWh float64
	BatteryTempPerKW   float64 // pack heating per kW throughput
	RPMPerKMH          float64 // motor rpm per km/h of road speed
	MotorTempPerKMH    float64
	MotorTempPerAccel  float64 // °C per m/s² of |accel|
	MotorTempRippleC   float64 // amplitude of the slow thermal ripple
	InverterBaseEff    float64
	InverterEffPerAcc  float64 // efficiency lost per m/s² of |accel|
	InverterEffPerKMH  float64
	InverterTempPerKW  float64
	RegenEfficiency    float64 // fraction of recovered power returned to pack
	TickSeconds        float64 // wall time one tick represents
}

// DefaultSynthParams returns the standard synthesis model.
func DefaultSynthParams() SynthParams {
	return SynthParams{
		MassKG:             1500,
		DragFactor:         0.46,
		RollingForceN:      191,
		AccessoryLoadKW:    1.2,
		AmbientTempC:       20,
		NominalVoltage:     360,
		VoltageSagPerPct:   0.5,
		VoltageSagPerAmp:   0.02,
		BatteryCapacityKWh: 52,
		BatteryTempPerKW:   0.15,
		RPMPerKMH:          85,
		MotorTempPerKMH:    0.25,
		MotorTempPerAccel:  4,
		MotorTempRippleC:   1.5,
		InverterBaseEff:    0.97,
		InverterEffPerAcc:  0.015,
		InverterEffPerKMH:  0.0002,
		InverterTempPerKW:  0.3,
		RegenEfficiency:    0.9,
		TickSeconds:        0.2,
	}
}

// Emitter converts simulator snapshots into telemetry records. It carries
// the battery state of charge between ticks; everything else is a pure
// function of the snapshot. Not safe for concurrent use.
type Emitter struct {
	params SynthParams
	cfg    *config.TuningConfig

	soc     float64 // % state of charge
	totalWh float64 // lifetime energy drawn this session
}

// NewEmitter creates an Emitter with a full battery.
func NewEmitter(params SynthParams, cfg *config.TuningConfig) *Emitter {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &Emitter{params: params, cfg: cfg, soc: 100}
}

// Reset restores a full battery for a new session.
func (e *Emitter) Reset() {
	e.soc = 100
	e.totalWh = 0
}

// SoC returns the current battery state of charge in percent.
func (e *Emitter) SoC() float64 {
	return e.soc
}

// Emit derives one Record from a simulator snapshot.
func (e *Emitter) Emit(st sim.State, profile modes.Profile, now time.Time) Record {
	p := e.params
	speedMS := st.Speed / 3.6
	absAccel := math.Abs(st.Acceleration)

	// Traction power from the force balance, floored at zero; braking
	// energy is accounted separately through regeneration.
	tractionN := p.MassKG*st.Acceleration + p.DragFactor*speedMS*speedMS + p.RollingForceN
	tractionKW := tractionN * speedMS / 1000
	if tractionKW < 0 {
		tractionKW = 0
	}
	motorKW := tractionKW + p.AccessoryLoadKW

	regenActive := st.Acceleration < e.cfg.GetRegenThreshold()
	var regenKW float64
	if regenActive {
		regenKW = absAccel * e.cfg.GetRegenPowerScale() * profile.RegenFactor * speedMS
	}

	invEff := p.InverterBaseEff - p.InverterEffPerAcc*absAccel - p.InverterEffPerKMH*st.Speed
	if invEff < 0.5 {
		invEff = 0.5
	}
	invKW := motorKW / invEff

	// Pack throughput drives the state of charge.
	netKW := invKW - regenKW*p.RegenEfficiency
	deltaWh := netKW * p.TickSeconds / 3.6 // kW * s → Wh
	e.totalWh += math.Max(0, deltaWh)
	e.soc -= deltaWh / (p.BatteryCapacityKWh * 1000) * 100
	e.soc = math.Min(100, math.Max(0, e.soc))

	voltage := p.NominalVoltage - (100-e.soc)*p.VoltageSagPerPct
	current := 0.0
	if voltage > 0 {
		current = netKW * 1000 / voltage
	}
	voltage -= math.Abs(current) * p.VoltageSagPerAmp

	// Instantaneous consumption normalized to kWh/100km; at standstill it
	// falls back to the mode's base figure so the channel stays defined.
	// Active driving events (rain, incline) scale the figure; a zero scale
	// means the snapshot predates any tick and is treated as neutral.
	consumption := profile.BaseConsumption
	if st.Speed > 1 {
		consumption = netKW / st.Speed * 100
	}
	if st.ConsumptionScale > 0 {
		consumption *= st.ConsumptionScale
	}

	rpm := st.Speed * p.RPMPerKMH
	torque := 0.0
	if rpm > 0 {
		torque = motorKW * 1000 / (rpm * 2 * math.Pi / 60)
	}

	ripple := math.Sin(float64(st.Tick)/50) * p.MotorTempRippleC
	motorTemp := p.AmbientTempC + st.Speed*p.MotorTempPerKMH + absAccel*p.MotorTempPerAccel + ripple
	batteryTemp := p.AmbientTempC + math.Abs(netKW)*p.BatteryTempPerKW
	inverterTemp := p.AmbientTempC + invKW*p.InverterTempPerKW

	rangeKM := 0.0
	if consumption > 0 {
		rangeKM = (e.soc / 100) * p.BatteryCapacityKWh / consumption * 100
	}

	return Record{
		Timestamp:    now,
		Tick:         st.Tick,
		ModeID:       st.ModeID,
		Speed:        st.Speed,
		Acceleration: st.Acceleration,
		RegenActive:  regenActive,
		RegenPower:   regenKW,
		Battery: BatteryReadings{
			Voltage:     voltage,
			Temperature: batteryTemp,
			Current:     current,
			Level:       e.soc,
			Consumption: consumption,
		},
		Motor: MotorReadings{
			Temperature: motorTemp,
			Speed:       rpm,
			Torque:      torque,
			Power:       motorKW,
		},
		Inverter: InverterReadings{
			Efficiency:  invEff,
			Temperature: inverterTemp,
			Power:       invKW,
		},
		RangeKM: rangeKM,
	}
}
