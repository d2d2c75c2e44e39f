package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytlive-proxy/work/logger"
)

const playlistType = "application/vnd.apple.mpegurl"

func isPlaylist(h http.Header) bool {
	return h.Get("Content-Type") == playlistType
}

func serve(contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		io.WriteString(w, body)
	}
}

func TestGzipCompressesPlaylists(t *testing.T) {
	body := strings.Repeat("#EXTINF:5.0,\nhttp://proxy.local/a?url=x\n", 20)
	h := GzipMiddleware(serve(playlistType, body), isPlaylist)

	r := httptest.NewRequest(http.MethodGet, "/@h/stream.m3u8", nil)
	r.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := httptest.NewRecorder()
	h(rec, r)

	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", rec.Header().Get("Vary"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, body, string(plain))
}

func TestGzipLeavesOtherResponsesAlone(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		encoding    string
		method      string
		wantVary    bool
	}{
		{"segment", "video/mp2t", "gzip", http.MethodGet, false},
		{"client without gzip", playlistType, "", http.MethodGet, true},
		{"head request", playlistType, "gzip", http.MethodHead, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := GzipMiddleware(serve(tc.contentType, "payload"), isPlaylist)

			r := httptest.NewRequest(tc.method, "/@h/stream.m3u8", nil)
			if tc.encoding != "" {
				r.Header.Set("Accept-Encoding", tc.encoding)
			}
			rec := httptest.NewRecorder()
			h(rec, r)

			assert.Empty(t, rec.Header().Get("Content-Encoding"))
			assert.Equal(t, tc.wantVary, rec.Header().Get("Vary") != "")
			if tc.method == http.MethodGet {
				assert.Equal(t, "payload", rec.Body.String())
			}
		})
	}
}

func TestGzipSkipsBodylessStatus(t *testing.T) {
	h := GzipMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", playlistType)
		w.WriteHeader(http.StatusNotModified)
	}, isPlaylist)

	r := httptest.NewRequest(http.MethodGet, "/@h/stream.m3u8", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h(rec, r)

	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Zero(t, rec.Body.Len())
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(func(w http.ResponseWriter, r *http.Request) { called = true })

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodOptions, "/@h/stream.m3u8", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,HEAD,OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Range,Accept,Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/@h/stream.m3u8", nil))
	assert.True(t, called)
}

func TestAccessLogRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	prev := logger.GetLogLevel()
	logger.SetLogLevel("DEBUG")
	t.Cleanup(func() {
		logger.SetLogLevel(prev)
		logger.SetOutput(io.Discard)
	})

	h := AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		io.WriteString(w, "short")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/@h/stream.m3u8?url=secret", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	out := buf.String()
	assert.Contains(t, out, "GET /@h/stream.m3u8 418 5B")
	assert.NotContains(t, out, "secret")
}

func TestGzipWeakensETag(t *testing.T) {
	h := GzipMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", playlistType)
		w.Header().Set("ETag", `"abc"`)
		io.WriteString(w, "#EXTM3U\n")
	}, isPlaylist)

	r := httptest.NewRequest(http.MethodGet, "/@h/stream.m3u8", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h(rec, r)
	assert.Equal(t, `W/"abc"`, rec.Header().Get("ETag"))

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/@h/stream.m3u8", nil))
	assert.Equal(t, `"abc"`, rec.Header().Get("ETag"), "identity body keeps the strong tag")
}

func TestGzipSkipsByteRanges(t *testing.T) {
	h := GzipMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", playlistType)
		w.Header().Set("Content-Range", "bytes 0-3/8")
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, "#EXT")
	}, isPlaylist)

	r := httptest.NewRequest(http.MethodGet, "/@h/stream.m3u8", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h(rec, r)

	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "#EXT", rec.Body.String())
}
