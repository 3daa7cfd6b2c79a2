// Package db persists sessions, telemetry samples, anomalies and final
// reports to sqlite. The analysis core owns no storage; this package is
// the collaborator that records what the core produces.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/driveline-data/driveline/internal/analysis"
	"github.com/driveline-data/driveline/internal/session"
	"github.com/driveline-data/driveline/internal/telemetry"
)

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (creating if needed) the sqlite database at path and
// ensures the base schema exists. Schema evolution beyond the base runs
// through the migrate methods.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			mode_id           TEXT,
			created_at        TIMESTAMP,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS telemetry (
			session_id        TEXT,
			tick              BIGINT,
			mode_id           TEXT,
			speed             DOUBLE,
			acceleration      DOUBLE,
			regen_active      INTEGER,
			regen_power       DOUBLE,
			battery_voltage   DOUBLE,
			battery_temp      DOUBLE,
			battery_current   DOUBLE,
			battery_level     DOUBLE,
			consumption       DOUBLE,
			motor_temp        DOUBLE,
			motor_speed       DOUBLE,
			motor_torque      DOUBLE,
			motor_power       DOUBLE,
			inverter_eff      DOUBLE,
			inverter_temp     DOUBLE,
			inverter_power    DOUBLE,
			range_km          DOUBLE,
			recorded_at       TIMESTAMP,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE INDEX IF NOT EXISTS idx_telemetry_session_tick
			ON telemetry(session_id, tick);
		CREATE TABLE IF NOT EXISTS anomalies (
			session_id        TEXT,
			component         TEXT,
			metric            TEXT,
			observed          DOUBLE,
			mean              DOUBLE,
			deviation         DOUBLE,
			severity          TEXT,
			message           TEXT,
			recorded_at       TIMESTAMP,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE TABLE IF NOT EXISTS reports (
			session_id        TEXT PRIMARY KEY,
			mode_id           TEXT,
			started_at        TIMESTAMP,
			stopped_at        TIMESTAMP,
			ticks             BIGINT,
			analysis_passes   BIGINT,
			efficiency_score  DOUBLE,
			final_battery_pct DOUBLE,
			report_json       TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{DB: db, path: path}, nil
}

// Path returns the filesystem path the database was opened with.
func (db *DB) Path() string {
	return db.path
}

// RecordSession registers a session row.
func (db *DB) RecordSession(id, modeID string, createdAt time.Time) error {
	_, err := db.Exec(
		`INSERT OR REPLACE INTO sessions (session_id, mode_id, created_at) VALUES (?, ?, ?)`,
		id, modeID, createdAt,
	)
	return err
}

// SessionRow is one registered session.
type SessionRow struct {
	ID        string    `json:"id"`
	ModeID    string    `json:"mode_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Sessions lists registered sessions, oldest first.
func (db *DB) Sessions() ([]SessionRow, error) {
	rows, err := db.Query(`SELECT session_id, mode_id, created_at FROM sessions ORDER BY created_at ASC, session_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []SessionRow
	for rows.Next() {
		var s SessionRow
		if err := rows.Scan(&s.ID, &s.ModeID, &s.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// RecordTelemetry inserts one telemetry sample for a session.
func (db *DB) RecordTelemetry(sessionID string, rec telemetry.Record) error {
	_, err := db.Exec(
		`INSERT INTO telemetry (
			session_id, tick, mode_id, speed, acceleration,
			regen_active, regen_power,
			battery_voltage, battery_temp, battery_current, battery_level, consumption,
			motor_temp, motor_speed, motor_torque, motor_power,
			inverter_eff, inverter_temp, inverter_power,
			range_km, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, int64(rec.Tick), rec.ModeID, rec.Speed, rec.Acceleration,
		boolToInt(rec.RegenActive), rec.RegenPower,
		rec.Battery.Voltage, rec.Battery.Temperature, rec.Battery.Current, rec.Battery.Level, rec.Battery.Consumption,
		rec.Motor.Temperature, rec.Motor.Speed, rec.Motor.Torque, rec.Motor.Power,
		rec.Inverter.Efficiency, rec.Inverter.Temperature, rec.Inverter.Power,
		rec.RangeKM, rec.Timestamp,
	)
	return err
}

// RecordTelemetryBatch inserts a batch of samples in one transaction.
func (db *DB) RecordTelemetryBatch(sessionID string, recs []telemetry.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO telemetry (
			session_id, tick, mode_id, speed, acceleration,
			regen_active, regen_power,
			battery_voltage, battery_temp, battery_current, battery_level, consumption,
			motor_temp, motor_speed, motor_torque, motor_power,
			inverter_eff, inverter_temp, inverter_power,
			range_km, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.Exec(
			sessionID, int64(rec.Tick), rec.ModeID, rec.Speed, rec.Acceleration,
			boolToInt(rec.RegenActive), rec.RegenPower,
			rec.Battery.Voltage, rec.Battery.Temperature, rec.Battery.Current, rec.Battery.Level, rec.Battery.Consumption,
			rec.Motor.Temperature, rec.Motor.Speed, rec.Motor.Torque, rec.Motor.Power,
			rec.Inverter.Efficiency, rec.Inverter.Temperature, rec.Inverter.Power,
			rec.RangeKM, rec.Timestamp,
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RecordAnomaly inserts one anomaly record for a session.
func (db *DB) RecordAnomaly(sessionID string, a analysis.AnomalyRecord) error {
	_, err := db.Exec(
		`INSERT INTO anomalies (
			session_id, component, metric, observed, mean, deviation,
			severity, message, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, a.Component, a.Metric, a.Observed, a.Mean, a.Deviation,
		string(a.Severity), a.Message, a.Timestamp,
	)
	return err
}

// SaveReport stores a session's final report. The scalar summary lives
// in dedicated columns for querying; the full report rides along as JSON.
func (db *DB) SaveReport(r *session.Report) error {
	blob, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = db.Exec(
		`INSERT OR REPLACE INTO reports (
			session_id, mode_id, started_at, stopped_at, ticks,
			analysis_passes, efficiency_score, final_battery_pct, report_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.ModeID, r.StartedAt, r.StoppedAt, int64(r.Ticks),
		int64(r.AnalysisPasses), r.EfficiencyScore, r.FinalBatteryPct, string(blob),
	)
	return err
}

// Report loads a session's final report.
func (db *DB) Report(sessionID string) (*session.Report, error) {
	var blob string
	err := db.QueryRow(
		`SELECT report_json FROM reports WHERE session_id = ?`, sessionID,
	).Scan(&blob)
	if err != nil {
		return nil, err
	}
	var r session.Report
	if err := json.Unmarshal([]byte(blob), &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}

// TelemetryPoint is one row of the telemetry history queries.
type TelemetryPoint struct {
	Tick         int64     `json:"tick"`
	Speed        float64   `json:"speed"`
	Acceleration float64   `json:"acceleration"`
	BatteryLevel float64   `json:"battery_level"`
	MotorTemp    float64   `json:"motor_temp"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// TelemetryHistory returns up to limit samples for a session, oldest
// first.
func (db *DB) TelemetryHistory(sessionID string, limit int) ([]TelemetryPoint, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(
		`SELECT tick, speed, acceleration, battery_level, motor_temp, recorded_at
		 FROM telemetry WHERE session_id = ? ORDER BY tick ASC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []TelemetryPoint
	for rows.Next() {
		var p TelemetryPoint
		if err := rows.Scan(&p.Tick, &p.Speed, &p.Acceleration, &p.BatteryLevel, &p.MotorTemp, &p.RecordedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

// AnomalyCountsBySeverity aggregates a session's persisted anomalies.
func (db *DB) AnomalyCountsBySeverity(sessionID string) (map[string]int, error) {
	rows, err := db.Query(
		`SELECT severity, COUNT(*) FROM anomalies WHERE session_id = ? GROUP BY severity`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, err
		}
		counts[severity] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
