package proxy

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"

	"ytlive-proxy/work/cache"
	"ytlive-proxy/work/client"
	"ytlive-proxy/work/config"
	"ytlive-proxy/work/logger"
	"ytlive-proxy/work/metrics"
	"ytlive-proxy/work/playlist"
	"ytlive-proxy/work/resolver"
	"ytlive-proxy/work/utils"
)

// UpstreamStatusError reports a playlist fetch that came back with a non-2xx status.
type UpstreamStatusError struct {
	Kind   string
	Status int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream %s playlist returned status %d", e.Kind, e.Status)
}

// hopHeaders are connection-scoped and never copied from upstream to the client.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StreamProxy holds the three pipeline producers and the cache-aside layer that wraps them.
type StreamProxy struct {
	Config     *config.Config
	HttpClient client.Fetcher
	Resolver   resolver.Resolver
	Cache      *cache.Layer
}

// New wires the proxy together. All dependencies are shared across requests and
// must be safe for concurrent use.
func New(cfg *config.Config, httpClient client.Fetcher, res resolver.Resolver, layer *cache.Layer) *StreamProxy {
	return &StreamProxy{
		Config:     cfg,
		HttpClient: httpClient,
		Resolver:   res,
		Cache:      layer,
	}
}

// SetCORSHeaders applies the open CORS policy used on every manifest response.
func SetCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET,HEAD,OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Range,Accept,Content-Type")
}

// Master resolves the handle's manifest, fetches it and rewrites every absolute URL
// into a variant proxy URL. An unknown or offline handle yields a 404 response.
func (sp *StreamProxy) Master(ctx context.Context, handle string, r *http.Request) (*cache.Response, error) {
	manifestURL, err := sp.Resolver.Resolve(ctx, handle)
	if errors.Is(err, resolver.ErrManifestNotFound) {
		logger.Info("{proxy - Master} no live manifest for %s", handle)
		return textResponse(http.StatusNotFound, "Manifest not found"), nil
	}
	if err != nil {
		return nil, err
	}

	body, err := sp.fetchPlaylist(ctx, "master", manifestURL)
	if err != nil {
		return nil, err
	}
	sp.inspect(cache.TierMaster, manifestURL, body)

	rewritten := playlist.RewriteMaster(body, utils.ProxyBase(r, sp.Config.BaseURL))
	return manifestResponse(rewritten), nil
}

// Variant fetches a variant playlist and rewrites each segment reference, resolved
// against variantURL, into a segment proxy URL.
func (sp *StreamProxy) Variant(ctx context.Context, variantURL string, r *http.Request) (*cache.Response, error) {
	body, err := sp.fetchPlaylist(ctx, "variant", variantURL)
	if err != nil {
		return nil, err
	}
	sp.inspect(cache.TierVariant, variantURL, body)

	rewritten, err := playlist.RewriteVariant(body, variantURL, utils.ProxyBase(r, sp.Config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("rewrite variant playlist: %w", err)
	}
	return manifestResponse(rewritten), nil
}

// Segment streams one media segment from upstream. The client's Range header is
// forwarded verbatim; upstream status and headers come back unchanged apart from the
// CORS origin header, so upstream failures reach the client as they are.
func (sp *StreamProxy) Segment(ctx context.Context, targetURL string, r *http.Request) (*cache.Response, error) {
	var extra http.Header
	if rng := r.Header.Get("Range"); rng != "" {
		extra = http.Header{"Range": {rng}}
	}

	resp, err := sp.HttpClient.Get(ctx, "segment", targetURL, extra)
	if err != nil {
		return nil, err
	}

	header := resp.Header.Clone()
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Set("Access-Control-Allow-Origin", "*")

	if !cache.IsSuccess(resp.StatusCode) {
		logger.Debug("{proxy - Segment} upstream returned %d for %s", resp.StatusCode, utils.LogURL(sp.Config, targetURL))
	}

	return &cache.Response{Status: resp.StatusCode, Header: header, Body: resp.Body}, nil
}

func (sp *StreamProxy) fetchPlaylist(ctx context.Context, kind, rawURL string) (string, error) {
	body, status, err := client.FetchText(ctx, sp.HttpClient, kind, rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch %s playlist: %w", kind, err)
	}
	if !cache.IsSuccess(status) {
		logger.Warn("{proxy - fetchPlaylist} %s playlist %s returned %d", kind, utils.LogURL(sp.Config, rawURL), status)
		return "", &UpstreamStatusError{Kind: kind, Status: status}
	}
	return body, nil
}

// inspect records playlist shape for metrics and debug logs. Decoder failures are
// only logged: the textual rewrite does not depend on them.
func (sp *StreamProxy) inspect(tier cache.Tier, rawURL, body string) {
	summary, err := playlist.Inspect(body)
	if err != nil {
		logger.Debug("{proxy - inspect} %s playlist %s not decodable: %v", tier, utils.LogURL(sp.Config, rawURL), err)
		return
	}

	switch summary.Kind {
	case playlist.KindMaster:
		metrics.PlaylistEntries.WithLabelValues(string(tier)).Observe(float64(summary.Variants))
		logger.Debug("{proxy - inspect} master %s has %d variants", utils.LogURL(sp.Config, rawURL), summary.Variants)
	case playlist.KindMedia:
		metrics.PlaylistEntries.WithLabelValues(string(tier)).Observe(float64(summary.Segments))
		logger.Debug("{proxy - inspect} media %s has %d segments (target %.1fs, live=%v)",
			utils.LogURL(sp.Config, rawURL), summary.Segments, summary.TargetDuration, summary.Live)
	}
}

// ETag returns a strong validator derived from a manifest body.
func ETag(body string) string {
	sum := blake2b.Sum256([]byte(body))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func manifestResponse(body string) *cache.Response {
	h := http.Header{}
	h.Set("Content-Type", playlist.ContentType)
	h.Set("ETag", ETag(body))
	SetCORSHeaders(h)
	return &cache.Response{
		Status: http.StatusOK,
		Header: h,
		Body:   io.NopCloser(strings.NewReader(body)),
	}
}

func textResponse(status int, msg string) *cache.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &cache.Response{
		Status: status,
		Header: h,
		Body:   io.NopCloser(strings.NewReader(msg)),
	}
}
