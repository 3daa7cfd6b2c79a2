// Package session owns the lifecycle of one simulation run: the
// simulator, telemetry emitter and analysis pipeline behind a single
// lock, driven by two ticker cadences, with a subscribe/unsubscribe
// surface for consumers of telemetry and analysis output.
package session

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driveline-data/driveline/internal/analysis"
	"github.com/driveline-data/driveline/internal/config"
	"github.com/driveline-data/driveline/internal/modes"
	"github.com/driveline-data/driveline/internal/monitoring"
	"github.com/driveline-data/driveline/internal/sim"
	"github.com/driveline-data/driveline/internal/telemetry"
	"github.com/driveline-data/driveline/internal/timeutil"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

var (
	// ErrNotStarted is returned when stopping a session that never ran.
	ErrNotStarted = errors.New("session has not been started")

	// ErrAlreadyRunning is returned when starting a running session.
	ErrAlreadyRunning = errors.New("session is already running")
)

// subscriber channel buffer. Sends are non-blocking; a consumer that
// falls this far behind loses samples rather than stalling the tick loop.
const subscriberBuffer = 16

// Warning is a non-fatal condition surfaced during a run.
type Warning struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a point-in-time view of a session for external readers.
type Snapshot struct {
	ID             string                   `json:"id"`
	State          State                    `json:"state"`
	Sim            sim.State                `json:"sim"`
	StartedAt      time.Time                `json:"started_at,omitempty"`
	Ticks          uint64                   `json:"ticks"`
	AnalysisPasses uint64                   `json:"analysis_passes"`
	BatteryLevel   float64                  `json:"battery_level"`
	LastRecord     *telemetry.Record        `json:"last_record,omitempty"`
	LastAnalysis   *analysis.AnalysisResult `json:"last_analysis,omitempty"`
	Warnings       []Warning                `json:"warnings,omitempty"`
}

// Session drives one simulation run. All mutable state sits behind mu;
// the run loop is the single writer and external readers take the lock
// for snapshots, so every tick is atomic with respect to analysis and
// observers.
type Session struct {
	ID        string
	CreatedAt time.Time

	clock timeutil.Clock
	cfg   *config.TuningConfig

	mu       sync.Mutex
	state    State
	stopping bool
	sim      *sim.Simulator
	emitter  *telemetry.Emitter
	pipeline *analysis.Pipeline
	profile  modes.Profile

	startedAt      time.Time
	stoppedAt      time.Time
	analysisPasses uint64
	warnings       []Warning
	diagErrors     []DiagError
	anomalies      []analysis.AnomalyRecord
	lastRecord     *telemetry.Record
	lastAnalysis   *analysis.AnalysisResult
	finalReport    *Report

	telemetrySubs map[string]chan telemetry.Record
	analysisSubs  map[string]chan analysis.AnalysisResult

	stopChan chan struct{}
	doneChan chan struct{}
}

// New creates an idle session for the given mode. An unknown mode id is
// non-fatal: the session starts on the default profile and records a
// warning. The random source seeds target-speed jitter.
func New(modeID string, seed int64, clock timeutil.Clock, cfg *config.TuningConfig) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}

	s := &Session{
		ID:            uuid.New().String(),
		CreatedAt:     clock.Now(),
		clock:         clock,
		cfg:           cfg,
		state:         StateIdle,
		emitter:       telemetry.NewEmitter(telemetry.DefaultSynthParams(), cfg),
		pipeline:      analysis.NewPipeline(cfg),
		telemetrySubs: make(map[string]chan telemetry.Record),
		analysisSubs:  make(map[string]chan analysis.AnalysisResult),
	}

	profile, err := modes.Lookup(modeID)
	if err != nil {
		s.warn(err.Error())
	}
	s.profile = profile
	s.sim = sim.New(profile, newRand(seed), cfg)
	return s
}

// warn appends a warning under mu (or before the session is shared).
func (s *Session) warn(msg string) {
	monitoring.Logf("session %s: %s", s.ID, msg)
	s.warnings = append(s.warnings, Warning{Message: msg, Timestamp: s.clock.Now()})
}

// Start transitions Idle or Stopped to Running. Buffers, battery state
// and collected errors reset; the run loop begins ticking.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return ErrAlreadyRunning
	}

	s.pipeline.Reset()
	s.emitter.Reset()
	s.warnings = nil
	s.diagErrors = nil
	s.anomalies = nil
	s.lastRecord = nil
	s.lastAnalysis = nil
	s.finalReport = nil
	s.analysisPasses = 0
	s.startedAt = s.clock.Now()
	s.stoppedAt = time.Time{}

	s.sim.Start()
	s.state = StateRunning
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	go s.run(s.stopChan, s.doneChan)

	monitoring.Logf("session %s: started in mode %s", s.ID, s.profile.ID)
	return nil
}

// Stop transitions Running to Stopped and returns the final aggregate
// report. Stopping an already stopped session is idempotent and returns
// the same report. Stopping an idle session is invalid.
func (s *Session) Stop() (*Report, error) {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return nil, ErrNotStarted
	case StateStopped:
		report := s.finalReport
		s.mu.Unlock()
		return report, nil
	}
	doneChan := s.doneChan
	if !s.stopping {
		// Closing under the lock keeps concurrent Stop calls from both
		// observing Running and racing on the channel.
		s.stopping = true
		close(s.stopChan)
	}
	s.mu.Unlock()

	// Wait for any in-flight tick to finish so the session never stops
	// with torn state.
	<-doneChan

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return s.finalReport, nil
	}
	s.sim.Stop()
	s.state = StateStopped
	s.stopping = false
	s.stoppedAt = s.clock.Now()
	s.finalReport = s.buildReport()
	monitoring.Logf("session %s: stopped after %d ticks", s.ID, s.sim.State().Tick)
	return s.finalReport, nil
}

// SetMode switches the driving mode mid-run. Unknown ids fall back to
// the default mode and record a warning.
func (s *Session) SetMode(modeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sim.SetMode(modeID); err != nil {
		s.warn(err.Error())
	}
	s.profile = s.sim.Profile()
	monitoring.Logf("session %s: mode set to %s", s.ID, s.profile.ID)
}

// run is the session's single writer: both cadences are serviced here,
// so every analysis pass sees all appends from preceding ticks.
func (s *Session) run(stopChan, doneChan chan struct{}) {
	defer close(doneChan)

	fast := s.clock.NewTicker(s.cfg.GetTickInterval())
	slow := s.clock.NewTicker(s.cfg.GetAnalysisInterval())
	defer fast.Stop()
	defer slow.Stop()

	for {
		select {
		case <-stopChan:
			return
		case now := <-fast.C():
			s.doTick(now)
		case now := <-slow.C():
			s.doAnalysis(now)
		}
	}
}

func (s *Session) doTick(now time.Time) {
	s.mu.Lock()
	st := s.sim.Tick()
	rec := s.emitter.Emit(st, s.profile, now)
	s.pipeline.Ingest(rec)
	s.lastRecord = &rec
	subs := make([]chan telemetry.Record, 0, len(s.telemetrySubs))
	for _, ch := range s.telemetrySubs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

func (s *Session) doAnalysis(now time.Time) {
	s.mu.Lock()
	res := s.pipeline.Run(s.profile, now)
	s.lastAnalysis = &res
	s.analysisPasses++
	s.anomalies = append(s.anomalies, res.Anomalies...)
	subs := make([]chan analysis.AnalysisResult, 0, len(s.analysisSubs))
	for _, ch := range s.analysisSubs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- res:
		default:
		}
	}
}

// SubscribeTelemetry registers a consumer for per-tick records. The
// returned channel is buffered and sends never block; slow consumers
// drop samples.
func (s *Session) SubscribeTelemetry() (string, <-chan telemetry.Record) {
	id := uuid.New().String()
	ch := make(chan telemetry.Record, subscriberBuffer)
	s.mu.Lock()
	s.telemetrySubs[id] = ch
	s.mu.Unlock()
	return id, ch
}

// UnsubscribeTelemetry removes a telemetry consumer.
func (s *Session) UnsubscribeTelemetry(id string) {
	s.mu.Lock()
	delete(s.telemetrySubs, id)
	s.mu.Unlock()
}

// SubscribeAnalysis registers a consumer for per-pass analysis results.
func (s *Session) SubscribeAnalysis() (string, <-chan analysis.AnalysisResult) {
	id := uuid.New().String()
	ch := make(chan analysis.AnalysisResult, subscriberBuffer)
	s.mu.Lock()
	s.analysisSubs[id] = ch
	s.mu.Unlock()
	return id, ch
}

// UnsubscribeAnalysis removes an analysis consumer.
func (s *Session) UnsubscribeAnalysis(id string) {
	s.mu.Lock()
	delete(s.analysisSubs, id)
	s.mu.Unlock()
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the active profile.
func (s *Session) Mode() modes.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:             s.ID,
		State:          s.state,
		Sim:            s.sim.State(),
		StartedAt:      s.startedAt,
		Ticks:          s.sim.State().Tick,
		AnalysisPasses: s.analysisPasses,
		BatteryLevel:   s.emitter.SoC(),
		LastRecord:     s.lastRecord,
		LastAnalysis:   s.lastAnalysis,
	}
	snap.Warnings = append(snap.Warnings, s.warnings...)
	return snap
}

// Report returns the final report of a stopped session, or nil.
func (s *Session) Report() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalReport
}

// newRand builds the jitter source. Seed 0 means non-reproducible.
func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
