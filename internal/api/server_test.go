package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driveline-data/driveline/internal/config"
	"github.com/driveline-data/driveline/internal/db"
	"github.com/driveline-data/driveline/internal/modes"
	"github.com/driveline-data/driveline/internal/monitoring"
	"github.com/driveline-data/driveline/internal/session"
	"github.com/driveline-data/driveline/internal/testutil"
	"github.com/driveline-data/driveline/internal/timeutil"
	"github.com/driveline-data/driveline/internal/units"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func setupTestServer(t *testing.T) (*Server, *session.Manager, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	manager := session.NewManager(clock, nil)
	database, err := db.NewDB(filepath.Join(t.TempDir(), "api_test.db"))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { database.Close() })

	cfg := config.MustLoadDefaultConfig()
	srv := NewServer(manager, database, cfg, units.KMPH)
	t.Cleanup(srv.Close)
	t.Cleanup(manager.StopAll)
	return srv, manager, clock
}

// advanceUntil drives the mock clock until cond holds. Session run loops
// consume ticks asynchronously, so polling is the only correct
// synchronization.
func advanceUntil(t *testing.T, clock *timeutil.MockClock, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		clock.Advance(step)
		return cond()
	}, 5*time.Second, time.Millisecond, "condition never held")
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		testutil.AssertNoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := testutil.NewTestRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	testutil.AssertNoError(t, json.NewDecoder(w.Body).Decode(v))
}

func TestListModes(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	mux := srv.ServeMux()

	w := doJSON(t, mux, http.MethodGet, "/api/modes", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var profiles []modes.Profile
	decodeBody(t, w, &profiles)
	require.Len(t, profiles, len(modes.IDs()))

	w = doJSON(t, mux, http.MethodPost, "/api/modes", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestShowConfig(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	mux := srv.ServeMux()

	w := doJSON(t, mux, http.MethodGet, "/api/config", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var cfg config.TuningConfig
	decodeBody(t, w, &cfg)
	require.Equal(t, 200*time.Millisecond, cfg.GetTickInterval())
}

func TestCreateAndListSessions(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	mux := srv.ServeMux()

	w := doJSON(t, mux, http.MethodPost, "/api/sessions", map[string]any{"mode": "sport", "seed": 7})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)

	var snap session.Snapshot
	decodeBody(t, w, &snap)
	require.NotEmpty(t, snap.ID)
	require.Equal(t, session.StateIdle, snap.State)
	require.Equal(t, "sport", snap.Sim.ModeID)

	// An empty body defaults to the default mode.
	w = doJSON(t, mux, http.MethodPost, "/api/sessions", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)

	w = doJSON(t, mux, http.MethodGet, "/api/sessions", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var snaps []session.Snapshot
	decodeBody(t, w, &snaps)
	require.Len(t, snaps, 2)
}

func TestSessionNotFound(t *testing.T) {
	srv, _, _ := setupTestServer(t)
	mux := srv.ServeMux()

	w := doJSON(t, mux, http.MethodGet, "/api/sessions/no-such-id", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv, manager, _ := setupTestServer(t)
	mux := srv.ServeMux()

	sess := manager.Create("city", 42)
	base := "/api/sessions/" + sess.ID

	// Stopping before starting conflicts.
	w := doJSON(t, mux, http.MethodPost, base+"/stop", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusConflict)

	w = doJSON(t, mux, http.MethodPost, base+"/start", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	require.Equal(t, session.StateRunning, sess.State())

	// Starting twice conflicts.
	w = doJSON(t, mux, http.MethodPost, base+"/start", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusConflict)

	w = doJSON(t, mux, http.MethodPost, base+"/stop", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var report session.Report
	decodeBody(t, w, &report)
	require.Equal(t, sess.ID, report.SessionID)
	require.Equal(t, "city", report.ModeID)

	// The report endpoint serves the same aggregate after the stop.
	w = doJSON(t, mux, http.MethodGet, base+"/report", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
}

func TestSetSessionMode(t *testing.T) {
	srv, manager, _ := setupTestServer(t)
	mux := srv.ServeMux()

	sess := manager.Create("eco", 1)
	base := "/api/sessions/" + sess.ID

	w := doJSON(t, mux, http.MethodPost, base+"/mode", map[string]string{"mode": "highway"})
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	require.Equal(t, "highway", sess.Mode().ID)

	w = doJSON(t, mux, http.MethodPost, base+"/mode", map[string]string{})
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestLatestTelemetryAndUnits(t *testing.T) {
	srv, manager, clock := setupTestServer(t)
	mux := srv.ServeMux()

	sess := manager.Create("city", 42)
	base := "/api/sessions/" + sess.ID

	// Nothing recorded yet.
	w := doJSON(t, mux, http.MethodGet, base+"/telemetry", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	testutil.AssertNoError(t, sess.Start())
	advanceUntil(t, clock, 200*time.Millisecond, func() bool {
		return sess.Snapshot().LastRecord != nil
	})

	w = doJSON(t, mux, http.MethodGet, base+"/telemetry", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var kmph struct {
		Units  string `json:"units"`
		Record struct {
			Speed float64 `json:"speed"`
		} `json:"record"`
	}
	decodeBody(t, w, &kmph)
	require.Equal(t, units.KMPH, kmph.Units)

	w = doJSON(t, mux, http.MethodGet, base+"/telemetry?units=bogus", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
}

func TestLatestAnalysis(t *testing.T) {
	srv, manager, clock := setupTestServer(t)
	mux := srv.ServeMux()

	sess := manager.Create("city", 42)
	base := "/api/sessions/" + sess.ID

	w := doJSON(t, mux, http.MethodGet, base+"/analysis", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	testutil.AssertNoError(t, sess.Start())
	advanceUntil(t, clock, 200*time.Millisecond, func() bool {
		return sess.Snapshot().LastAnalysis != nil
	})

	w = doJSON(t, mux, http.MethodGet, base+"/analysis", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
}

func TestDiagnosticsEndpoint(t *testing.T) {
	srv, manager, clock := setupTestServer(t)
	mux := srv.ServeMux()

	sess := manager.Create("eco", 42)
	base := "/api/sessions/" + sess.ID

	// Before any telemetry the suite reports the missing-data failure.
	w := doJSON(t, mux, http.MethodPost, base+"/diagnostics", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var res struct {
		Failures []session.DiagError `json:"failures"`
		Passed   bool                `json:"passed"`
	}
	decodeBody(t, w, &res)
	require.False(t, res.Passed)
	require.Len(t, res.Failures, 1)

	testutil.AssertNoError(t, sess.Start())
	advanceUntil(t, clock, 200*time.Millisecond, func() bool {
		return sess.Snapshot().LastRecord != nil
	})

	w = doJSON(t, mux, http.MethodPost, base+"/diagnostics", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	decodeBody(t, w, &res)
	require.True(t, res.Passed)
}

func TestCreatedSessionPersistsTelemetry(t *testing.T) {
	srv, _, clock := setupTestServer(t)
	mux := srv.ServeMux()

	w := doJSON(t, mux, http.MethodPost, "/api/sessions", map[string]any{"mode": "city", "seed": 42})
	testutil.AssertStatusCode(t, w.Code, http.StatusCreated)
	var snap session.Snapshot
	decodeBody(t, w, &snap)
	base := "/api/sessions/" + snap.ID

	w = doJSON(t, mux, http.MethodPost, base+"/start", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	advanceUntil(t, clock, 200*time.Millisecond, func() bool {
		s := doJSON(t, mux, http.MethodGet, base, nil)
		var snap session.Snapshot
		decodeBody(t, s, &snap)
		return snap.Ticks >= 10
	})

	w = doJSON(t, mux, http.MethodPost, base+"/stop", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	// Stop closed the recorder, so the batch is flushed and history serves
	// the persisted rows.
	w = doJSON(t, mux, http.MethodGet, base+"/history", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var hist struct {
		Units  string             `json:"units"`
		Points []db.TelemetryPoint `json:"points"`
	}
	decodeBody(t, w, &hist)
	require.NotEmpty(t, hist.Points)

	// The persisted report survives session removal.
	w = doJSON(t, mux, http.MethodDelete, base, nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	w = doJSON(t, mux, http.MethodGet, base+"/report", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	var report session.Report
	decodeBody(t, w, &report)
	require.Equal(t, snap.ID, report.SessionID)
}

func TestStreamTelemetry(t *testing.T) {
	srv, manager, clock := setupTestServer(t)

	sess := manager.Create("city", 42)
	testutil.AssertNoError(t, sess.Start())

	httpSrv := httptest.NewServer(srv.ServeMux())
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL + "/api/sessions/" + sess.ID + "/stream")
	testutil.AssertNoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	done := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if scanner.Text() == "event: telemetry" {
				close(done)
				return
			}
		}
	}()

	advanceUntil(t, clock, 200*time.Millisecond, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	})
}
