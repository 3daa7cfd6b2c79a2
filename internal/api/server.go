package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/driveline-data/driveline/internal/config"
	"github.com/driveline-data/driveline/internal/db"
	"github.com/driveline-data/driveline/internal/modes"
	"github.com/driveline-data/driveline/internal/session"
	"github.com/driveline-data/driveline/internal/telemetry"
	"github.com/driveline-data/driveline/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	sessions *session.Manager
	db       *db.DB
	cfg      *config.TuningConfig
	units    string

	// batch size for per-session persistence; recorders are owned here
	// because the server is where sessions are created and removed.
	batchSize  int
	recorderMu sync.Mutex
	recorders  map[string]*db.Recorder
}

func NewServer(m *session.Manager, database *db.DB, cfg *config.TuningConfig, speedUnits string) *Server {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	return &Server{
		sessions:  m,
		db:        database,
		cfg:       cfg,
		units:     speedUnits,
		batchSize: cfg.GetPersistenceBatchSize(),
		recorders: make(map[string]*db.Recorder),
	}
}

// Close flushes and detaches all session recorders.
func (s *Server) Close() {
	s.recorderMu.Lock()
	defer s.recorderMu.Unlock()
	for id, rec := range s.recorders {
		rec.Close()
		delete(s.recorders, id)
	}
}

// detachRecorder flushes and removes the recorder for a session, if any.
func (s *Server) detachRecorder(sessionID string) {
	s.recorderMu.Lock()
	rec, ok := s.recorders[sessionID]
	delete(s.recorders, sessionID)
	s.recorderMu.Unlock()
	if ok {
		rec.Close()
	}
}

// convertRecordSpeed applies unit conversion to the speed fields of a
// telemetry record. Records are stored and simulated in km/h.
func (s *Server) convertRecordSpeed(rec telemetry.Record, targetUnits string) telemetry.Record {
	rec.Speed = units.ConvertSpeed(rec.Speed, targetUnits)
	return rec
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/modes", s.listModes)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/sessions", s.sessionsHandler)
	mux.HandleFunc("/api/sessions/", s.sessionHandler)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// speedUnits resolves the units for a request: explicit query parameter
// first, server default otherwise.
func (s *Server) speedUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid units %q (valid: %s)", u, units.GetValidUnitsString())
	}
	return u, nil
}

func (s *Server) listModes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, modes.All())
}

// showConfig dumps the effective tuning config. Unset fields are omitted;
// the Get* defaults apply to those at runtime.
func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, s.cfg)
}

// sessionsHandler covers the collection: list and create.
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		list := s.sessions.List()
		snaps := make([]session.Snapshot, 0, len(list))
		for _, sess := range list {
			snaps = append(snaps, sess.Snapshot())
		}
		s.writeJSON(w, snaps)
	case http.MethodPost:
		s.createSession(w, r)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

type createSessionRequest struct {
	Mode string `json:"mode"`
	Seed int64  `json:"seed"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
	}

	sess := s.sessions.Create(req.Mode, req.Seed)
	if s.db != nil {
		rec, err := s.db.Record(sess, s.batchSize)
		if err != nil {
			log.Printf("Failed to attach recorder for session %s: %v", sess.ID, err)
		} else {
			s.recorderMu.Lock()
			s.recorders[sess.ID] = rec
			s.recorderMu.Unlock()
		}
	}

	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, sess.Snapshot())
}

// sessionHandler dispatches /api/sessions/{id} and its sub-paths.
func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusNotFound, "Session id required")
		return
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		// Reports for removed sessions survive in the database.
		if action == "report" && r.Method == http.MethodGet && s.db != nil {
			s.archivedReport(w, id)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Session not found: %s", id))
		return
	}

	if action == "stream" {
		s.streamTelemetry(w, r, sess)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch action {
	case "":
		s.sessionRoot(w, r, sess)
	case "start":
		s.startSession(w, r, sess)
	case "stop":
		s.stopSession(w, r, sess)
	case "mode":
		s.setSessionMode(w, r, sess)
	case "diagnostics":
		s.runDiagnostics(w, r, sess)
	case "report":
		s.sessionReport(w, r, sess)
	case "telemetry":
		s.latestTelemetry(w, r, sess)
	case "analysis":
		s.latestAnalysis(w, r, sess)
	case "history":
		s.telemetryHistory(w, r, sess)
	default:
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("Unknown action: %s", action))
	}
}

func (s *Server) sessionRoot(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, sess.Snapshot())
	case http.MethodDelete:
		s.detachRecorder(sess.ID)
		if err := s.sessions.Remove(sess.ID); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to remove session: %v", err))
			return
		}
		s.writeJSON(w, map[string]string{"status": "removed"})
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := sess.Start(); err != nil {
		s.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, sess.Snapshot())
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	report, err := sess.Stop()
	if err != nil {
		s.writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if s.db != nil {
		// Flush the recorder before the report lands so row counts agree.
		s.detachRecorder(sess.ID)
		if err := s.db.SaveReport(report); err != nil {
			log.Printf("Failed to persist report for session %s: %v", sess.ID, err)
		}
	}
	s.writeJSON(w, report)
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) setSessionMode(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Mode == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'mode' field")
		return
	}
	sess.SetMode(req.Mode)
	s.writeJSON(w, sess.Snapshot())
}

func (s *Server) runDiagnostics(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	failures := sess.RunDiagnostics()
	if failures == nil {
		failures = []session.DiagError{}
	}
	s.writeJSON(w, map[string]any{
		"failures": failures,
		"passed":   len(failures) == 0,
	})
}

func (s *Server) sessionReport(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	report := sess.Report()
	if report == nil {
		s.writeJSONError(w, http.StatusNotFound, "Session has no report yet; stop it first")
		return
	}
	s.writeJSON(w, report)
}

func (s *Server) archivedReport(w http.ResponseWriter, sessionID string) {
	w.Header().Set("Content-Type", "application/json")
	report, err := s.db.Report(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("No report for session: %s", sessionID))
		return
	}
	s.writeJSON(w, report)
}

func (s *Server) latestTelemetry(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	targetUnits, err := s.speedUnits(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap := sess.Snapshot()
	if snap.LastRecord == nil {
		s.writeJSONError(w, http.StatusNotFound, "No telemetry recorded yet")
		return
	}
	rec := s.convertRecordSpeed(*snap.LastRecord, targetUnits)
	s.writeJSON(w, map[string]any{"units": targetUnits, "record": rec})
}

func (s *Server) latestAnalysis(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	snap := sess.Snapshot()
	if snap.LastAnalysis == nil {
		s.writeJSONError(w, http.StatusNotFound, "No analysis pass completed yet")
		return
	}
	s.writeJSON(w, snap.LastAnalysis)
}

func (s *Server) telemetryHistory(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusNotFound, "Persistence is disabled")
		return
	}
	targetUnits, err := s.speedUnits(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	points, err := s.db.TelemetryHistory(sess.ID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve telemetry history: %v", err))
		return
	}
	for i := range points {
		points[i].Speed = units.ConvertSpeed(points[i].Speed, targetUnits)
	}
	s.writeJSON(w, map[string]any{"units": targetUnits, "points": points})
}
