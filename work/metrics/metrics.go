package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Requests counts client requests per tier ("master", "variant", "segment", "invalid")
// and the status code written back.
var Requests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ytlive_proxy_requests_total",
	Help: "Client requests by tier and response status",
}, []string{"tier", "status"})

// CacheLookups counts cache-aside lookups per tier. The "result" label is "hit" or "miss".
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ytlive_proxy_cache_lookups_total",
	Help: "Cache lookups by tier and result",
}, []string{"tier", "result"})

// CacheStores counts responses written to the cache store. The "outcome" label is
// "stored", "too_large", "truncated" or "error".
var CacheStores = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ytlive_proxy_cache_stores_total",
	Help: "Cache writes by tier and outcome",
}, []string{"tier", "outcome"})

// UpstreamFetches counts outbound requests. "kind" is the pipeline stage that issued the
// fetch ("page", "master", "variant", "segment") and "outcome" is the status class or "error".
var UpstreamFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ytlive_proxy_upstream_fetches_total",
	Help: "Upstream fetches by pipeline stage and outcome",
}, []string{"kind", "outcome"})

// UpstreamLatency observes time to upstream response headers.
var UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ytlive_proxy_upstream_latency_seconds",
	Help:    "Time until upstream response headers arrived",
	Buckets: prometheus.DefBuckets,
}, []string{"kind"})

// BytesServed counts body bytes written to clients per tier.
var BytesServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ytlive_proxy_bytes_served_total",
	Help: "Response body bytes written to clients",
}, []string{"tier"})

// Resolutions counts manifest discovery results. "candidate" is the page form that matched
// ("handle", "channel", "watch") or "none".
var Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ytlive_proxy_manifest_resolutions_total",
	Help: "Manifest discovery outcomes by winning candidate",
}, []string{"candidate"})

// PlaylistEntries observes how many variants (master) or segments (variant) a rewritten
// playlist carried.
var PlaylistEntries = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ytlive_proxy_playlist_entries",
	Help:    "Variants per master playlist and segments per variant playlist",
	Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
}, []string{"tier"})

// StatusClass collapses an HTTP status into "2xx", "3xx", "4xx" or "5xx".
func StatusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
