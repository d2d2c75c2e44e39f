package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"ytlive-proxy/work/config"
	"ytlive-proxy/work/metrics"
)

// maxTextBytes caps how much of a page or playlist is read into memory.
var maxTextBytes int64 = 16 << 20

// submitRetry is how long Do waits before offering a task to a saturated pool again.
const submitRetry = 5 * time.Millisecond

// ErrBodyTooLarge is returned by FetchText when a page or playlist exceeds maxTextBytes.
var ErrBodyTooLarge = errors.New("upstream body exceeds size limit")

// Fetcher performs outbound GETs with the proxy's browser identity. kind names the
// pipeline stage issuing the call and is only used for metrics.
type Fetcher interface {
	Get(ctx context.Context, kind, rawURL string, extra http.Header) (*http.Response, error)
}

// HeaderSettingClient wraps http.Client to automatically set the browser identity headers,
// pace requests per upstream host and bound concurrent dispatch.
type HeaderSettingClient struct {
	Client   *http.Client
	config   *config.Config
	pool     *ants.Pool                               // nil dispatches inline
	limiters *xsync.MapOf[string, ratelimit.Limiter] // per-host pacing, keyed by URL host
}

var _ Fetcher = (*HeaderSettingClient)(nil)

// NewHeaderSettingClient builds the shared upstream client. pool may be nil.
func NewHeaderSettingClient(cfg *config.Config, pool *ants.Pool) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0, // No overall timeout for streaming
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamHeaderTimeout, // Only timeout for headers
		},
	}

	return &HeaderSettingClient{
		Client:   client,
		config:   cfg,
		pool:     pool,
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
	}
}

// Get issues a GET for rawURL. Headers in extra are applied after the identity headers
// and win on conflict.
func (hsc *HeaderSettingClient) Get(ctx context.Context, kind, rawURL string, extra http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	hsc.setHeaders(req)
	for name, values := range extra {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	start := time.Now()
	resp, err := hsc.Do(req)
	metrics.UpstreamLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamFetches.WithLabelValues(kind, "error").Inc()
		return nil, err
	}
	metrics.UpstreamFetches.WithLabelValues(kind, metrics.StatusClass(resp.StatusCode)).Inc()
	return resp, nil
}

// Do sends an already-built request. Identity headers must have been set by the caller
// (Get does this). Waiting for the rate limiter or a pool worker gives up once the
// request context is done; a pool built with ants.WithNonblocking is retried until then.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if limiter := hsc.limiterFor(req.URL.Host); limiter != nil {
		limiter.Take()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if hsc.pool == nil {
		return hsc.Client.Do(req)
	}

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	task := func() {
		resp, err := hsc.Client.Do(req)
		done <- result{resp, err}
	}
	if err := hsc.submit(ctx, task); err != nil {
		return nil, err
	}

	// Client.Do honours the request context, so this returns promptly on cancellation.
	res := <-done
	return res.resp, res.err
}

func (hsc *HeaderSettingClient) submit(ctx context.Context, task func()) error {
	var timer *time.Timer
	for {
		err := hsc.pool.Submit(task)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("dispatch upstream request: %w", err)
		}

		if timer == nil {
			timer = time.NewTimer(submitRetry)
			defer timer.Stop()
		} else {
			timer.Reset(submitRetry)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", hsc.config.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", hsc.config.AcceptLanguage)
}

func (hsc *HeaderSettingClient) limiterFor(host string) ratelimit.Limiter {
	if hsc.config.UpstreamRateLimit <= 0 {
		return nil
	}
	limiter, _ := hsc.limiters.LoadOrCompute(host, func() ratelimit.Limiter {
		return ratelimit.New(hsc.config.UpstreamRateLimit)
	})
	return limiter
}

// FetchText GETs rawURL and returns the body as text along with the upstream status.
// The body is returned for every status; callers decide what a non-2xx means. A body
// larger than maxTextBytes is an error rather than a silently truncated playlist.
func FetchText(ctx context.Context, f Fetcher, kind, rawURL string) (string, int, error) {
	resp, err := f.Get(ctx, kind, rawURL, nil)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTextBytes+1))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read %s body: %w", kind, err)
	}
	if int64(len(body)) > maxTextBytes {
		return "", resp.StatusCode, fmt.Errorf("read %s body: %w (%d bytes)", kind, ErrBodyTooLarge, maxTextBytes)
	}
	return string(body), resp.StatusCode, nil
}
