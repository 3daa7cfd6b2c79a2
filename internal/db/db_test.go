package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/driveline-data/driveline/internal/analysis"
	"github.com/driveline-data/driveline/internal/session"
	"github.com/driveline-data/driveline/internal/telemetry"
	"github.com/driveline-data/driveline/internal/testutil"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleRecord(tick uint64) telemetry.Record {
	return telemetry.Record{
		Timestamp:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(tick) * 200 * time.Millisecond),
		Tick:         tick,
		ModeID:       "city",
		Speed:        35 + float64(tick%5),
		Acceleration: 0.5,
		RegenActive:  tick%3 == 0,
		RegenPower:   1.2,
		Battery:      telemetry.BatteryReadings{Voltage: 358, Temperature: 24, Current: 40, Level: 98, Consumption: 16.5},
		Motor:        telemetry.MotorReadings{Temperature: 38, Speed: 3000, Torque: 55, Power: 17},
		Inverter:     telemetry.InverterReadings{Efficiency: 0.95, Temperature: 28, Power: 18},
		RangeKM:      280,
	}
}

func TestPathReflectsOpenedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driveline_test.db")
	db, err := NewDB(path)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { db.Close() })

	if db.Path() != path {
		t.Fatalf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestRecordAndQueryTelemetry(t *testing.T) {
	db := newTestDB(t)

	testutil.AssertNoError(t, db.RecordSession("s1", "city", time.Now()))
	for i := uint64(1); i <= 10; i++ {
		testutil.AssertNoError(t, db.RecordTelemetry("s1", sampleRecord(i)))
	}

	points, err := db.TelemetryHistory("s1", 0)
	testutil.AssertNoError(t, err)
	if len(points) != 10 {
		t.Fatalf("history returned %d points, want 10", len(points))
	}
	for i, p := range points {
		if p.Tick != int64(i+1) {
			t.Errorf("points[%d].Tick = %d, want %d (oldest first)", i, p.Tick, i+1)
		}
	}
}

func TestRecordTelemetryBatch(t *testing.T) {
	db := newTestDB(t)
	testutil.AssertNoError(t, db.RecordSession("s1", "city", time.Now()))

	recs := make([]telemetry.Record, 0, 50)
	for i := uint64(1); i <= 50; i++ {
		recs = append(recs, sampleRecord(i))
	}
	testutil.AssertNoError(t, db.RecordTelemetryBatch("s1", recs))

	points, err := db.TelemetryHistory("s1", 100)
	testutil.AssertNoError(t, err)
	if len(points) != 50 {
		t.Fatalf("history returned %d points, want 50", len(points))
	}

	// Empty batch is a no-op, not an error.
	testutil.AssertNoError(t, db.RecordTelemetryBatch("s1", nil))
}

func TestTelemetryHistoryLimit(t *testing.T) {
	db := newTestDB(t)
	testutil.AssertNoError(t, db.RecordSession("s1", "city", time.Now()))
	for i := uint64(1); i <= 20; i++ {
		testutil.AssertNoError(t, db.RecordTelemetry("s1", sampleRecord(i)))
	}

	points, err := db.TelemetryHistory("s1", 5)
	testutil.AssertNoError(t, err)
	if len(points) != 5 {
		t.Fatalf("history returned %d points, want 5", len(points))
	}
}

func TestAnomalyCounts(t *testing.T) {
	db := newTestDB(t)
	testutil.AssertNoError(t, db.RecordSession("s1", "city", time.Now()))

	for _, severity := range []analysis.Severity{
		analysis.SeverityMedium, analysis.SeverityMedium, analysis.SeverityCritical,
	} {
		err := db.RecordAnomaly("s1", analysis.AnomalyRecord{
			Component: "motor",
			Metric:    telemetry.ChannelMotorTemp,
			Observed:  120,
			Mean:      40,
			Deviation: 5,
			Severity:  severity,
			Message:   "motor_temperature deviates",
			Timestamp: time.Now(),
		})
		testutil.AssertNoError(t, err)
	}

	counts, err := db.AnomalyCountsBySeverity("s1")
	testutil.AssertNoError(t, err)
	if counts["medium"] != 2 || counts["critical"] != 1 {
		t.Errorf("counts = %v, want medium:2 critical:1", counts)
	}
}

func TestSaveAndLoadReport(t *testing.T) {
	db := newTestDB(t)
	testutil.AssertNoError(t, db.RecordSession("s1", "eco", time.Now()))

	report := &session.Report{
		SessionID:       "s1",
		ModeID:          "eco",
		StartedAt:       time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		StoppedAt:       time.Date(2026, 5, 1, 10, 5, 0, 0, time.UTC),
		Duration:        "5m0s",
		Ticks:           1500,
		AnalysisPasses:  300,
		AnomalyCounts:   map[string]int{"medium": 3},
		EfficiencyScore: 87.5,
		FinalBatteryPct: 96.2,
		Channels: map[string]session.ChannelSummary{
			telemetry.ChannelSpeed: {Samples: 100, Mean: 58, Min: 31, Max: 74, Latest: 60},
		},
	}
	testutil.AssertNoError(t, db.SaveReport(report))

	got, err := db.Report("s1")
	testutil.AssertNoError(t, err)
	if got.Ticks != 1500 || got.EfficiencyScore != 87.5 {
		t.Errorf("loaded report = %+v", got)
	}
	if got.Channels[telemetry.ChannelSpeed].Mean != 58 {
		t.Errorf("channel summary lost in round trip: %+v", got.Channels)
	}

	// Unknown session id surfaces the sql error.
	if _, err := db.Report("nope"); err == nil {
		t.Error("Report(unknown) returned nil error")
	}
}
