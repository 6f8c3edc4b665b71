package telemetry

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/rangefetch/internal/logctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// statusRecorder keeps the first status a handler writes and counts body bytes.
// Both the access log and the request metrics read from it.
type statusRecorder struct {
	http.ResponseWriter

	status      int
	written     int64
	wroteHeader bool
}

func recordStatus(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}

	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}

	rec.status = code
	rec.wroteHeader = true

	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}

	n, err := rec.ResponseWriter.Write(b)
	rec.written += int64(n)

	return n, err
}

// Flush lets streaming handlers keep working behind the recorder.
func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AccessLog logs every request once it completes: 5xx at ERROR, 4xx at WARN,
// the rest at INFO. Mount it after RequestID so the record carries the id.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()
		rec := recordStatus(w)

		next.ServeHTTP(rec, r)

		level := slogLevelFor(rec.status)
		logctx.LoggerFromContext(ctx).Log(ctx, level, "http request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.written,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func slogLevelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Instrument traces each request and records it in the HTTP metrics under its
// chi route pattern. With a nil tel requests pass through untouched.
func Instrument(tel *Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tel == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			tel.IncrementHTTPInFlight()
			defer tel.DecrementHTTPInFlight()

			ctx, span := tel.Tracer().Start(r.Context(), "http_request")
			defer span.End()

			rec := recordStatus(w)
			r = r.WithContext(ctx)

			next.ServeHTTP(rec, r)

			route := routePattern(r)

			span.SetAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.user_agent", r.UserAgent()),
				attribute.Int("http.status_code", rec.status),
				attribute.Int64("http.response_size", rec.written),
			)

			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, "HTTP "+strconv.Itoa(rec.status))
			}

			tel.RecordHTTPRequest(r.Method, route, statusClass(rec.status), time.Since(start))
		})
	}
}

// statusClass buckets a status code as "2xx" through "5xx".
func statusClass(code int) string {
	if code < http.StatusOK || code > 599 {
		return "unknown"
	}

	return strconv.Itoa(code/100) + "xx"
}

// routePattern keeps the path label bounded: "/downloads/{id}" rather than one series per job.
// chi fills the pattern in while routing, so it is read after the handler returns.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	return r.URL.Path
}
