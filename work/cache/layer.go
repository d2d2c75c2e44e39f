package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"ytlive-proxy/work/buffer"
	"ytlive-proxy/work/config"
	"ytlive-proxy/work/logger"
	"ytlive-proxy/work/metrics"
	"ytlive-proxy/work/utils"
)

// Producer computes a response for arg on a cache miss.
type Producer func(ctx context.Context, arg string, r *http.Request) (*Response, error)

// Layer is the cache-aside wrapper around the pipeline producers. The key is the full
// incoming request URL. Only successful results are stored; errors and non-2xx
// responses always go back to the producer on the next request.
//
// Concurrent misses for one key are not coalesced: each runs the producer and the last
// write wins.
type Layer struct {
	store   Store
	config  *config.Config
	buffers *buffer.BufferPool
	now     func() time.Time
}

// NewLayer wires a store and capture pool into a cache-aside layer.
func NewLayer(store Store, cfg *config.Config, buffers *buffer.BufferPool) *Layer {
	return &Layer{
		store:   store,
		config:  cfg,
		buffers: buffers,
		now:     time.Now,
	}
}

// TTL returns the lifetime used for entries of tier.
func (l *Layer) TTL(tier Tier) time.Duration {
	return l.config.TTLFor(string(tier))
}

// Cached serves r from the store when possible and otherwise runs producer(arg).
// On a successful miss the returned body tees into a capture; the copy is stored once
// the caller has read the body to EOF.
func (l *Layer) Cached(ctx context.Context, tier Tier, producer Producer, arg string, r *http.Request) (*Response, error) {
	key := utils.RequestURL(r, l.config.BaseURL)

	entry, ok, err := l.store.Get(ctx, key)
	if err != nil {
		logger.Warn("{cache/layer - Cached} store read failed, treating as miss: %v", err)
	}
	if ok {
		metrics.CacheLookups.WithLabelValues(string(tier), "hit").Inc()
		resp := entry.Response()
		resp.Header.Set("X-Cache", "HIT")
		return resp, nil
	}
	metrics.CacheLookups.WithLabelValues(string(tier), "miss").Inc()

	resp, err := producer(ctx, arg, r)
	if err != nil {
		return nil, err
	}
	if !IsSuccess(resp.Status) {
		return resp, nil
	}

	ttl := l.TTL(tier)
	resp.Header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ttl.Seconds())))
	resp.Header.Set("X-Cache", "MISS")

	// A partial response only covers one byte range and cannot answer a later
	// request for the same URL.
	if resp.Status == http.StatusPartialContent {
		return resp, nil
	}

	resp.Body = &teeBody{
		src:     resp.Body,
		capture: l.buffers.Capture(),
		ctx:     ctx,
		layer:   l,
		tier:    tier,
		key:     key,
		status:  resp.Status,
		header:  resp.Header.Clone(),
		ttl:     ttl,
	}
	return resp, nil
}

// commit stores the captured body of a fully read response.
func (l *Layer) commit(t *teeBody) {
	if t.capture.Overflowed() {
		metrics.CacheStores.WithLabelValues(string(t.tier), "too_large").Inc()
		return
	}

	entry := &Entry{
		Status:    t.status,
		Header:    t.header,
		Body:      t.capture.Bytes(),
		ExpiresAt: l.now().Add(t.ttl),
	}
	if err := l.store.Set(t.ctx, t.key, entry); err != nil {
		metrics.CacheStores.WithLabelValues(string(t.tier), "error").Inc()
		logger.Warn("{cache/layer - commit} store write failed for %s entry: %v", t.tier, err)
		return
	}
	metrics.CacheStores.WithLabelValues(string(t.tier), "stored").Inc()
}

// teeBody streams the producer's body to the caller while copying it into a capture.
// Reaching EOF commits the copy to the store; closing early discards it.
type teeBody struct {
	src     io.ReadCloser
	capture *buffer.Capture
	ctx     context.Context
	layer   *Layer
	tier    Tier
	key     string
	status  int
	header  http.Header
	ttl     time.Duration
	done    bool
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 && !t.done {
		t.capture.Write(p[:n])
	}
	if err == io.EOF && !t.done {
		t.done = true
		t.layer.commit(t)
		t.capture.Release()
	}
	return n, err
}

func (t *teeBody) Close() error {
	if !t.done {
		t.done = true
		metrics.CacheStores.WithLabelValues(string(t.tier), "truncated").Inc()
		t.capture.Release()
	}
	return t.src.Close()
}
