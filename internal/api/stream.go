package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/driveline-data/driveline/internal/session"
)

// streamHeartbeat keeps idle connections from being reaped by proxies.
const streamHeartbeat = 15 * time.Second

// streamTelemetry serves a live server-sent event stream of telemetry and
// analysis results for one session. Events are named "telemetry" and
// "analysis"; a comment line is sent as a heartbeat while the session is
// idle.
func (s *Server) streamTelemetry(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if r.Method != http.MethodGet {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	targetUnits, err := s.speedUnits(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	telID, telCh := sess.SubscribeTelemetry()
	anaID, anaCh := sess.SubscribeAnalysis()
	defer sess.UnsubscribeTelemetry(telID)
	defer sess.UnsubscribeAnalysis(anaID)

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	writeEvent := func(event string, v any) bool {
		data, err := json.Marshal(v)
		if err != nil {
			return true
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case rec := <-telCh:
			if !writeEvent("telemetry", s.convertRecordSpeed(rec, targetUnits)) {
				return
			}
		case res := <-anaCh:
			if !writeEvent("analysis", res) {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
