package obs_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/garnizeh/initiatives/internal/catalog"
	"github.com/garnizeh/initiatives/internal/obs"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := obs.NewLogger("warn", "json", &buf)
	l.Info("hidden")
	l.Warn("shown", slog.String("k", "v"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "shown", rec["msg"])
	require.Equal(t, "v", rec["k"])

	buf.Reset()
	obs.NewLogger("debug", "text", &buf).Debug("plain")
	require.Contains(t, buf.String(), "msg=plain")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, obs.ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, obs.ParseLevel("warning"))
	require.Equal(t, slog.LevelError, obs.ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, obs.ParseLevel("nonsense"))
}

func TestNewRequestID_Monotonic(t *testing.T) {
	a := obs.NewRequestID()
	b := obs.NewRequestID()
	require.Len(t, a, 26)
	require.Less(t, a, b)
}

func TestInstrument_UsesRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := obs.NewMetrics(reg)

	r := mux.NewRouter()
	r.Use(m.Instrument)
	r.HandleFunc("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/"+id, nil))
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "http_requests_total" {
			require.Len(t, f.GetMetric(), 1, "one series for the templated path")
		}
	}

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(w.Result().Body)
	require.Contains(t, string(body), `http_requests_total{method="GET",path="/users/{id}",status="418"} 3`)
}

func TestCatalogHooksAndSignin(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := obs.NewMetrics(reg)
	hooks := m.CatalogHooks()

	hooks.OnLoad(&catalog.Snapshot{
		Initiatives: make([]catalog.Initiative, 4),
		Skipped:     []catalog.SkippedRow{{Line: 3}, {Line: 9}},
	})
	hooks.OnError(errors.New("boom"))
	m.Signin("ok")
	m.Signin("rejected")
	m.Signin("rejected")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	require.Contains(t, body, "catalog_initiatives 4")
	require.Contains(t, body, "catalog_rows_skipped_total 2")
	require.Contains(t, body, `catalog_reloads_total{result="error"} 1`)
	require.Contains(t, body, `signin_attempts_total{result="rejected"} 2`)
}

func TestNilMetrics(t *testing.T) {
	var m *obs.Metrics
	m.Signin("ok")
	require.Nil(t, m.CatalogHooks().OnLoad)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	w := httptest.NewRecorder()
	m.Instrument(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
