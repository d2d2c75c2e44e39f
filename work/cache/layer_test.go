package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytlive-proxy/work/buffer"
	"ytlive-proxy/work/config"
)

// mapStore is a minimal Store honouring ExpiresAt against an injectable clock.
type mapStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
	getErr  error
}

func newMapStore(now func() time.Time) *mapStore {
	return &mapStore{entries: map[string]*Entry{}, now: now}
}

func (s *mapStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	e, ok := s.entries[key]
	if !ok || e.Expired(s.now()) {
		return nil, false, nil
	}
	return e, true, nil
}

func (s *mapStore) Set(_ context.Context, key string, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}

func (s *mapStore) Close() {}

func (s *mapStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// countingProducer returns a fixed response and counts invocations.
type countingProducer struct {
	calls  int
	status int
	body   string
	err    error
}

func (p *countingProducer) produce(_ context.Context, _ string, _ *http.Request) (*Response, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/vnd.apple.mpegurl")
	return &Response{Status: p.status, Header: h, Body: io.NopCloser(strings.NewReader(p.body))}, nil
}

type fixture struct {
	layer *Layer
	store *mapStore
	clock time.Time
}

func newFixture(maxEntry int64) *fixture {
	f := &fixture{clock: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	now := func() time.Time { return f.clock }
	f.store = newMapStore(now)
	f.layer = NewLayer(f.store, config.GetDefaultConfig(), buffer.NewBufferPool(maxEntry))
	f.layer.now = now
	return f
}

func (f *fixture) get(t *testing.T, tier Tier, p Producer, target string) (*Response, string) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	resp, err := f.layer.Cached(r.Context(), tier, p, "arg", r)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(body)
}

func TestCachedMissThenHit(t *testing.T) {
	f := newFixture(1 << 20)
	p := &countingProducer{status: http.StatusOK, body: "#EXTM3U\n"}

	resp, body := f.get(t, TierMaster, p.produce, "http://proxy.local/@example/stream.m3u8")
	assert.Equal(t, "#EXTM3U\n", body)
	assert.Equal(t, "public, max-age=10", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	resp, body = f.get(t, TierMaster, p.produce, "http://proxy.local/@example/stream.m3u8")
	assert.Equal(t, "#EXTM3U\n", body)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, "public, max-age=10", resp.Header.Get("Cache-Control"), "stored header set is replayed")
	assert.Equal(t, 1, p.calls, "hit must not invoke the producer")
}

func TestCachedTierTTLs(t *testing.T) {
	tests := []struct {
		tier Tier
		want string
		ttl  time.Duration
	}{
		{TierMaster, "public, max-age=10", 10 * time.Second},
		{TierVariant, "public, max-age=5", 5 * time.Second},
		{TierSegment, "public, max-age=30", 30 * time.Second},
	}

	for _, tc := range tests {
		t.Run(string(tc.tier), func(t *testing.T) {
			f := newFixture(1 << 20)
			p := &countingProducer{status: http.StatusOK, body: "x"}
			target := "http://proxy.local/h/s.m3u8?" + string(tc.tier) + "=1"

			resp, _ := f.get(t, tc.tier, p.produce, target)
			assert.Equal(t, tc.want, resp.Header.Get("Cache-Control"))

			f.clock = f.clock.Add(tc.ttl - time.Millisecond)
			f.get(t, tc.tier, p.produce, target)
			assert.Equal(t, 1, p.calls, "still fresh just before expiry")

			f.clock = f.clock.Add(time.Millisecond)
			f.get(t, tc.tier, p.produce, target)
			assert.Equal(t, 2, p.calls, "expired entry goes back to the producer")
		})
	}
}

func TestCachedKeysOnFullURL(t *testing.T) {
	f := newFixture(1 << 20)
	p := &countingProducer{status: http.StatusOK, body: "x"}

	f.get(t, TierVariant, p.produce, "http://proxy.local/h/s.m3u8?variant=a")
	f.get(t, TierVariant, p.produce, "http://proxy.local/h/s.m3u8?variant=b")
	f.get(t, TierMaster, p.produce, "http://proxy.local/h/s.m3u8")
	f.get(t, TierMaster, p.produce, "http://proxy.local/other/s.m3u8")

	assert.Equal(t, 4, p.calls)
	assert.Equal(t, 4, f.store.len())
}

func TestCachedNeverStoresFailures(t *testing.T) {
	f := newFixture(1 << 20)
	notFound := &countingProducer{status: http.StatusNotFound, body: "Manifest not found"}

	for i := 0; i < 3; i++ {
		resp, body := f.get(t, TierMaster, notFound.produce, "http://proxy.local/@offline/stream.m3u8")
		assert.Equal(t, http.StatusNotFound, resp.Status)
		assert.Equal(t, "Manifest not found", body)
		assert.Empty(t, resp.Header.Get("Cache-Control"))
	}
	assert.Equal(t, 3, notFound.calls)
	assert.Zero(t, f.store.len())

	boom := errors.New("upstream exploded")
	failing := &countingProducer{err: boom}
	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://proxy.local/@x/stream.m3u8", nil)
		_, err := f.layer.Cached(r.Context(), TierMaster, failing.produce, "@x", r)
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 2, failing.calls)
	assert.Zero(t, f.store.len())
}

func TestCachedSkipsTruncatedAndOversizedBodies(t *testing.T) {
	f := newFixture(4)
	p := &countingProducer{status: http.StatusOK, body: "0123456789"}

	_, body := f.get(t, TierSegment, p.produce, "http://proxy.local/h/s.m3u8?url=big")
	assert.Equal(t, "0123456789", body, "oversized bodies still stream in full")
	assert.Zero(t, f.store.len())

	f = newFixture(1 << 20)
	r := httptest.NewRequest(http.MethodGet, "http://proxy.local/h/s.m3u8?url=cut", nil)
	resp, err := f.layer.Cached(r.Context(), TierSegment, p.produce, "cut", r)
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = resp.Body.Read(buf)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Zero(t, f.store.len(), "a body closed before EOF is not stored")
}

func TestCachedSkipsPartialContent(t *testing.T) {
	f := newFixture(1 << 20)
	p := &countingProducer{status: http.StatusPartialContent, body: "part"}

	resp, _ := f.get(t, TierSegment, p.produce, "http://proxy.local/h/s.m3u8?url=seg")
	assert.Equal(t, http.StatusPartialContent, resp.Status)
	assert.Equal(t, "public, max-age=30", resp.Header.Get("Cache-Control"))
	assert.Zero(t, f.store.len())
}

func TestCachedTreatsStoreErrorAsMiss(t *testing.T) {
	f := newFixture(1 << 20)
	f.store.getErr = errors.New("store offline")
	p := &countingProducer{status: http.StatusOK, body: "x"}

	resp, body := f.get(t, TierMaster, p.produce, "http://proxy.local/h/s.m3u8")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "x", body)
	assert.Equal(t, 1, p.calls)
}

func TestEntryResponseIsIndependent(t *testing.T) {
	e := &Entry{Status: http.StatusOK, Header: http.Header{"A": {"1"}}, Body: []byte("body")}

	first := e.Response()
	first.Header.Set("A", "changed")

	second := e.Response()
	assert.Equal(t, "1", second.Header.Get("A"))
	b, _ := io.ReadAll(second.Body)
	assert.Equal(t, "body", string(b))
}
