package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.MasterTTL)
	assert.Equal(t, 5*time.Second, cfg.VariantTTL)
	assert.Equal(t, 30*time.Second, cfg.SegmentTTL)
	assert.Equal(t, DefaultUserAgent, cfg.UserAgent)
	assert.Equal(t, "en-US,en;q=0.9", cfg.AcceptLanguage)
	assert.Equal(t, BackendOtter, cfg.CacheBackend)
	assert.Equal(t, []string{DefaultManifestMarker}, cfg.ManifestMarkers)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"listenAddr": ":9000",
		"baseURL": "https://live.example.com/",
		"masterTTL": "20s",
		"segmentTTL": "1m",
		"cacheBackend": "ristretto",
		"upstreamRateLimit": 7
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "https://live.example.com", cfg.BaseURL)
	assert.Equal(t, 20*time.Second, cfg.MasterTTL)
	assert.Equal(t, 5*time.Second, cfg.VariantTTL, "unset durations fall back to defaults")
	assert.Equal(t, time.Minute, cfg.SegmentTTL)
	assert.Equal(t, BackendRistretto, cfg.CacheBackend)
	assert.Equal(t, 7, cfg.UpstreamRateLimit)
}

func TestLoadConfigRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"listenAddr":`},
		{"bad duration", `{"variantTTL": "five seconds"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0644))

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestValidateAndSetDefaults(t *testing.T) {
	cfg := &Config{
		CacheBackend:       "memcached",
		CacheMaxBytes:      1024,
		CacheMaxEntryBytes: 4096,
		UpstreamRateLimit:  -3,
	}
	validateAndSetDefaults(cfg)

	assert.Equal(t, BackendOtter, cfg.CacheBackend)
	assert.Equal(t, int64(1024), cfg.CacheMaxEntryBytes, "entry limit is capped by the cache size")
	assert.Equal(t, 0, cfg.UpstreamRateLimit)
	assert.Equal(t, "https://www.youtube.com", cfg.UpstreamBaseURL)
}

func TestTTLFor(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, cfg.MasterTTL, cfg.TTLFor("master"))
	assert.Equal(t, cfg.VariantTTL, cfg.TTLFor("variant"))
	assert.Equal(t, cfg.SegmentTTL, cfg.TTLFor("segment"))
}

func TestCreateExampleConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.json")
	require.NoError(t, CreateExampleConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://live.example.com", cfg.BaseURL)
	assert.True(t, cfg.ObfuscateUrls)
}
