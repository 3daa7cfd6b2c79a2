package db

import (
	"github.com/driveline-data/driveline/internal/analysis"
	"github.com/driveline-data/driveline/internal/monitoring"
	"github.com/driveline-data/driveline/internal/session"
	"github.com/driveline-data/driveline/internal/telemetry"
)

// Recorder drains a session's telemetry and analysis subscriptions into
// the database. Telemetry is written in batches to keep the insert rate
// off the tick path; anomalies are written as they appear.
type Recorder struct {
	db        *DB
	sessionID string
	telSubID  string
	anaSubID  string
	unsubTel  func(string)
	unsubAna  func(string)
	stop      chan struct{}
	done      chan struct{}
}

// Record registers the session and starts persisting its output. The
// returned Recorder must be closed to flush the final batch.
func (db *DB) Record(s *session.Session, batchSize int) (*Recorder, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	if err := db.RecordSession(s.ID, s.Mode().ID, s.CreatedAt); err != nil {
		return nil, err
	}

	telID, telCh := s.SubscribeTelemetry()
	anaID, anaCh := s.SubscribeAnalysis()

	r := &Recorder{
		db:        db,
		sessionID: s.ID,
		telSubID:  telID,
		anaSubID:  anaID,
		unsubTel:  s.UnsubscribeTelemetry,
		unsubAna:  s.UnsubscribeAnalysis,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go r.run(telCh, anaCh, batchSize)
	return r, nil
}

func (r *Recorder) run(telCh <-chan telemetry.Record, anaCh <-chan analysis.AnalysisResult, batchSize int) {
	defer close(r.done)

	batch := make([]telemetry.Record, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.db.RecordTelemetryBatch(r.sessionID, batch); err != nil {
			monitoring.Logf("recorder %s: telemetry batch failed: %v", r.sessionID, err)
		}
		batch = batch[:0]
	}
	writeAnomalies := func(res analysis.AnalysisResult) {
		for _, a := range res.Anomalies {
			if err := r.db.RecordAnomaly(r.sessionID, a); err != nil {
				monitoring.Logf("recorder %s: anomaly insert failed: %v", r.sessionID, err)
			}
		}
	}

	for {
		select {
		case rec := <-telCh:
			batch = append(batch, rec)
			if len(batch) >= batchSize {
				flush()
			}
		case res := <-anaCh:
			writeAnomalies(res)
		case <-r.stop:
			// Drain whatever is still buffered before the final flush.
			for drained := false; !drained; {
				select {
				case rec := <-telCh:
					batch = append(batch, rec)
				case res := <-anaCh:
					writeAnomalies(res)
				default:
					drained = true
				}
			}
			flush()
			return
		}
	}
}

// Close unsubscribes from the session and flushes pending samples.
func (r *Recorder) Close() {
	r.unsubTel(r.telSubID)
	r.unsubAna(r.anaSubID)
	close(r.stop)
	<-r.done
}
