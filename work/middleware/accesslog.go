package middleware

import (
	"net/http"
	"time"

	"ytlive-proxy/work/logger"
)

// StatusWriter remembers the status and byte count a handler wrote.
type StatusWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

// NewStatusWriter wraps w; the status reads 200 until the handler says otherwise.
func NewStatusWriter(w http.ResponseWriter) *StatusWriter {
	return &StatusWriter{ResponseWriter: w, status: http.StatusOK}
}

// Status returns the status written so far.
func (w *StatusWriter) Status() int { return w.status }

// Written returns the number of body bytes written.
func (w *StatusWriter) Written() int64 { return w.bytes }

func (w *StatusWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Flush keeps segment streaming incremental through the wrapper.
func (w *StatusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// AccessLog logs one DEBUG line per request with method, path, status, size and
// duration. It is a mux middleware so it sees every matched route.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !logger.DebugEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := NewStatusWriter(w)
		next.ServeHTTP(sw, r)

		logger.Debug("{middleware/accesslog - AccessLog} %s %s %d %dB %s",
			r.Method, r.URL.Path, sw.Status(), sw.Written(), time.Since(start).Round(time.Microsecond))
	})
}
