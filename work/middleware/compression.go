package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"ytlive-proxy/work/logger"
)

// gzipWriterPool keeps gzip writers at BestSpeed for reuse across responses. Playlists
// are small and regenerated every few seconds, so throughput matters more than ratio.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// Compressible decides from the final response headers whether a body may be gzipped.
type Compressible func(h http.Header) bool

// gzipResponseWriter defers the compress-or-not decision until the handler writes its
// header, because only then are Content-Type and status known.
type gzipResponseWriter struct {
	http.ResponseWriter
	compressible Compressible
	acceptsGzip  bool
	gz           *gzip.Writer
	wroteHeader  bool
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	h := w.ResponseWriter.Header()
	if w.compressible(h) && h.Get("Content-Encoding") == "" {
		h.Add("Vary", "Accept-Encoding")
		// byte ranges refer to the identity body and are never re-encoded
		if w.acceptsGzip && h.Get("Content-Range") == "" {
			weakenETag(h)
			if bodyAllowed(status) {
				h.Set("Content-Encoding", "gzip")
				h.Del("Content-Length")

				w.gz = gzipWriterPool.Get().(*gzip.Writer)
				w.gz.Reset(w.ResponseWriter)
			}
		}
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.gz != nil {
		return w.gz.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// Flush pushes pending compressed bytes and then flushes the connection.
func (w *gzipResponseWriter) Flush() {
	if w.gz != nil {
		w.gz.Flush()
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *gzipResponseWriter) finish(r *http.Request) {
	if w.gz == nil {
		return
	}
	if err := w.gz.Close(); err != nil {
		logger.Error("{middleware/compression - GzipMiddleware} failed to close gzip writer for: %s %s - %v", r.Method, r.URL.Path, err)
	}
	w.gz.Reset(io.Discard)
	gzipWriterPool.Put(w.gz)
	w.gz = nil
}

// GzipMiddleware compresses responses that compressible accepts for clients that
// advertise gzip. Compressible responses always carry Vary: Accept-Encoding so shared
// caches keep the two encodings apart. Everything else, including media segments with
// their Content-Length and Content-Range, passes through byte for byte.
func GzipMiddleware(next http.HandlerFunc, compressible Compressible) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gzw := &gzipResponseWriter{
			ResponseWriter: w,
			compressible:   compressible,
			acceptsGzip:    r.Method != http.MethodHead && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip"),
		}
		defer gzw.finish(r)

		next(gzw, r)
	}
}

// weakenETag turns a strong validator into a weak one. The gzip body differs byte for
// byte from the identity body the strong tag was computed over.
func weakenETag(h http.Header) {
	if etag := h.Get("ETag"); etag != "" && !strings.HasPrefix(etag, "W/") {
		h.Set("ETag", "W/"+etag)
	}
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
