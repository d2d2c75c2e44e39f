package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ytlive-proxy/work/cache"
	"ytlive-proxy/work/logger"
	"ytlive-proxy/work/metrics"
	"ytlive-proxy/work/middleware"
	"ytlive-proxy/work/playlist"
	"ytlive-proxy/work/proxy"
	"ytlive-proxy/work/resolver"
)

// NewRouter registers the stream endpoint together with /metrics and /healthz.
// Path cleaning is disabled so the stream parser sees the path exactly as sent.
func NewRouter(sp *proxy.StreamProxy) *mux.Router {
	router := mux.NewRouter().SkipClean(true)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", HandleHealth(time.Now())).Methods(http.MethodGet, http.MethodHead)

	stream := HandleStream(sp)
	if sp.Config.CompressManifests {
		stream = middleware.GzipMiddleware(stream, isManifest)
	}
	router.PathPrefix("/").HandlerFunc(middleware.CORS(stream)).
		Methods(http.MethodGet, http.MethodHead, http.MethodOptions)

	router.Use(middleware.AccessLog)
	return router
}

func isManifest(h http.Header) bool {
	return h.Get("Content-Type") == playlist.ContentType
}

// HandleStream serves every tier of the pipeline through the cache-aside layer.
func HandleStream(sp *proxy.StreamProxy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := ParseRequest(r.URL)
		if err != nil {
			writeError(w, "invalid", err)
			return
		}

		var producer cache.Producer
		switch req.Tier {
		case cache.TierSegment:
			producer = sp.Segment
		case cache.TierVariant:
			producer = sp.Variant
		default:
			producer = sp.Master
		}

		resp, err := sp.Cache.Cached(r.Context(), req.Tier, producer, req.Arg(), r)
		if err != nil {
			writeError(w, string(req.Tier), err)
			return
		}
		writeResponse(w, r, req.Tier, resp)
	}
}

// writeResponse copies a producer or cache response to the client. A matching
// If-None-Match gets 304; the body is still drained so a fresh result reaches the store.
// A Range request answered from the cache is sliced from the stored copy.
func writeResponse(w http.ResponseWriter, r *http.Request, tier cache.Tier, resp *cache.Response) {
	defer resp.Body.Close()

	h := w.Header()
	for k, v := range resp.Header {
		h[k] = append([]string(nil), v...)
	}

	if etag := resp.Header.Get("ETag"); etag != "" && etagMatches(r.Header.Get("If-None-Match"), etag) {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			logger.Debug("{handlers - writeResponse} draining %s body failed: %v", tier, err)
		}
		w.WriteHeader(http.StatusNotModified)
		metrics.Requests.WithLabelValues(string(tier), strconv.Itoa(http.StatusNotModified)).Inc()
		return
	}

	if resp.Content != nil && resp.Status == http.StatusOK && r.Header.Get("Range") != "" {
		h.Del("Content-Length")
		sw := middleware.NewStatusWriter(w)
		http.ServeContent(sw, r, "", time.Time{}, resp.Content)
		metrics.Requests.WithLabelValues(string(tier), strconv.Itoa(sw.Status())).Inc()
		metrics.BytesServed.WithLabelValues(string(tier)).Add(float64(sw.Written()))
		return
	}

	w.WriteHeader(resp.Status)
	metrics.Requests.WithLabelValues(string(tier), strconv.Itoa(resp.Status)).Inc()
	if r.Method == http.MethodHead {
		return
	}

	n, err := io.Copy(w, resp.Body)
	metrics.BytesServed.WithLabelValues(string(tier)).Add(float64(n))
	if err != nil {
		// Either side went away mid-body; the status line is already sent.
		logger.Debug("{handlers - writeResponse} %s body ended after %d bytes: %v", tier, n, err)
	}
}

// etagMatches applies the weak comparison If-None-Match calls for: "*" matches
// anything, otherwise any listed tag equal to etag once W/ prefixes are dropped.
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	if strings.TrimSpace(ifNoneMatch) == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == want {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, tier string, err error) {
	var reqErr *RequestError
	status := http.StatusInternalServerError
	msg := "Error: " + err.Error()

	switch {
	case errors.As(err, &reqErr):
		status = http.StatusBadRequest
		msg = reqErr.Message
	case errors.Is(err, resolver.ErrManifestNotFound):
		status = http.StatusNotFound
		msg = "Manifest not found"
	default:
		logger.Error("{handlers - HandleStream} %s request failed: %v", tier, err)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	io.WriteString(w, msg)
	metrics.Requests.WithLabelValues(tier, strconv.Itoa(status)).Inc()
}

// HandleHealth reports liveness and uptime as JSON.
func HandleHealth(started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"uptime": time.Since(started).Round(time.Second).String(),
		}); err != nil {
			logger.Error("{handlers - HandleHealth} failed to encode response: %v", err)
		}
	}
}
