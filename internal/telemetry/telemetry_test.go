package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/rangefetch/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		204: "2xx",
		301: "3xx",
		404: "4xx",
		409: "4xx",
		500: "5xx",
		503: "5xx",
		100: "unknown",
	}

	for code, want := range tests {
		assert.Equal(t, want, statusClass(code), code)
	}
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		tel.RecordHTTPRequest("GET", "/downloads", "2xx", time.Millisecond)
		tel.IncrementHTTPInFlight()
		tel.DecrementHTTPInFlight()
		tel.RecordRun("Complete", time.Second)
		tel.RecordBytes(10)
		tel.RecordVerification("SHA-256", "mismatch")
		tel.RecordRestart()
		tel.RecordNotification("discord", "success")
		tel.RecordDBOperation("record_download", "success", time.Millisecond)
	})

	assert.NotNil(t, tel.Tracer())
	assert.NoError(t, tel.Shutdown(context.Background()))

	var called bool

	tel.InstrumentRun(context.Background(), func(context.Context) (string, error) {
		called = true

		return "Complete", nil
	})
	assert.True(t, called)

	err := tel.InstrumentDBOperation(context.Background(), "get_downloads", func(context.Context) error {
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
}

func TestDisabledTelemetry(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.NotPanics(t, func() {
		tel.InstrumentRun(context.Background(), func(context.Context) (string, error) { return "Paused", nil })
	})
}

func TestEnabledTelemetryServesMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "rangefetch-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.InstrumentRun(ctx, func(context.Context) (string, error) {
		tel.RecordBytes(1024)

		return "Complete", nil
	})
	tel.RecordVerification("SHA-256", "mismatch")
	tel.RecordRestart()

	r := chi.NewRouter()
	r.Use(Instrument(tel))
	r.Get("/downloads/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/downloads/abc", nil))

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "transfer_runs")
	assert.Contains(t, body, "downloaded_bytes")
	assert.Contains(t, body, "digest_mismatches")
	assert.Contains(t, body, `path="/downloads/{id}"`)
	assert.Contains(t, body, `status="4xx"`)
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rec.Header().Get(RequestIDHeader))

	assert.Empty(t, GetRequestID(context.Background()))
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestID(AccessLog(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodPost, "/downloads/x/pause", nil)
	req = req.WithContext(logctx.WithLogger(req.Context(), logger))
	req.Header.Set(RequestIDHeader, "rid-1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"status":409`)
	assert.Contains(t, out, `"request_id":"rid-1"`)
	assert.Contains(t, out, `"bytes":0`)
}

func TestAccessLogAndInstrumentShareRecorder(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var inner http.ResponseWriter

	h := AccessLog(Instrument(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		inner = w
		_, _ = io.WriteString(w, "hello")
	})))

	req := httptest.NewRequest(http.MethodGet, "/downloads", nil)
	req = req.WithContext(logctx.WithLogger(req.Context(), logger))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	sr, ok := inner.(*statusRecorder)
	require.True(t, ok)
	assert.Same(t, sr, recordStatus(sr))
	assert.Equal(t, int64(5), sr.written)

	out := buf.String()
	assert.Contains(t, out, `"level":"INFO"`)
	assert.Contains(t, out, `"status":200`)
	assert.Contains(t, out, `"bytes":5`)
}

func TestInstrument(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument(nil))
	r.Get("/downloads/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/downloads/abc", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRoutePattern(t *testing.T) {
	var pattern string

	r := chi.NewRouter()
	r.Get("/downloads/{id}", func(_ http.ResponseWriter, req *http.Request) {
		pattern = routePattern(req)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/downloads/abc", nil))
	assert.Equal(t, "/downloads/{id}", pattern)

	assert.Equal(t, "/plain", routePattern(httptest.NewRequest(http.MethodGet, "/plain", nil)))
}
