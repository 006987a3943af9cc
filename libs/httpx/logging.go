package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// probePaths are polled by the orchestrator and only logged when they fail.
var probePaths = map[string]bool{"/healthz": true, "/readyz": true}

// slowRequest marks a request as slow in the access log.
const slowRequest = 2 * time.Second

type recordingWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *recordingWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *recordingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// WithAccessLog writes one line per request. 5xx and slow requests go out at
// warn; successful health probes are not logged.
func WithAccessLog(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &recordingWriter{ResponseWriter: w}
			next.ServeHTTP(rw, r)

			status := rw.status
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			if probePaths[r.URL.Path] && status < http.StatusBadRequest {
				return
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError || elapsed >= slowRequest {
				level = slog.LevelWarn
			}
			attrs := []any{
				"request_id", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", rw.written,
				"duration_ms", elapsed.Milliseconds(),
			}
			if q := r.URL.Query().Get("vehicle_id"); q != "" {
				attrs = append(attrs, "vehicle_id", q)
			}
			logger.Log(r.Context(), level, "http request", attrs...)
		})
	}
}
