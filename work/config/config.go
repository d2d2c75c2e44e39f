package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// DefaultPath is where the container image mounts its settings volume.
const DefaultPath = "/settings/config.json"

// DefaultUserAgent identifies the proxy to upstream as an ordinary desktop browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36"

// DefaultManifestMarker locates the HLS manifest URL inside a live page.
const DefaultManifestMarker = `"hlsManifestUrl":"([^"]+)"`

// Cache backends understood by the store factory.
const (
	BackendOtter     = "otter"
	BackendRistretto = "ristretto"
)

// Config holds all application configuration values for the live stream proxy.
// It is built once at startup and treated as immutable afterwards.
type Config struct {
	ListenAddr             string        `json:"listenAddr"`             // Address the HTTP server binds to
	BaseURL                string        `json:"baseURL"`                // Public scheme+host used in rewritten URLs (empty = derive from request)
	UpstreamBaseURL        string        `json:"upstreamBaseURL"`        // Platform origin the live pages are fetched from
	UserAgent              string        `json:"userAgent"`              // Browser identity sent on every upstream call
	AcceptLanguage         string        `json:"acceptLanguage"`         // Accept-Language sent on every upstream call
	MasterTTL              time.Duration `json:"masterTTL"`              // Cache lifetime for master playlists
	VariantTTL             time.Duration `json:"variantTTL"`             // Cache lifetime for variant playlists
	SegmentTTL             time.Duration `json:"segmentTTL"`             // Cache lifetime for media segments
	CacheBackend           string        `json:"cacheBackend"`           // "otter" or "ristretto"
	CacheMaxBytes          int64         `json:"cacheMaxBytes"`          // Total body bytes the cache may hold
	CacheMaxEntryBytes     int64         `json:"cacheMaxEntryBytes"`     // Largest single body that will be cached
	UpstreamHeaderTimeout  time.Duration `json:"upstreamHeaderTimeout"`  // Time allowed for upstream response headers
	UpstreamRateLimit      int           `json:"upstreamRateLimit"`      // Requests per second per upstream host (0 = unlimited)
	MaxUpstreamConcurrency int           `json:"maxUpstreamConcurrency"` // Concurrent upstream dispatches allowed
	ManifestMarkers        []string      `json:"manifestMarkers"`        // Ordered patterns whose first group is the manifest URL
	CompressManifests      bool          `json:"compressManifests"`      // Gzip playlist responses for clients that accept it
	LogLevel               string        `json:"logLevel"`               // DEBUG, INFO, WARN or ERROR
	ObfuscateUrls          bool          `json:"obfuscateUrls"`          // Obfuscate upstream URLs in logs
}

// ConfigFile represents the JSON file structure for marshaling/unmarshaling configuration.
// String duration fields (e.g., "10s") are parsed into time.Duration values.
type ConfigFile struct {
	ListenAddr             string   `json:"listenAddr"`
	BaseURL                string   `json:"baseURL"`
	UpstreamBaseURL        string   `json:"upstreamBaseURL"`
	UserAgent              string   `json:"userAgent"`
	AcceptLanguage         string   `json:"acceptLanguage"`
	MasterTTL              string   `json:"masterTTL"`
	VariantTTL             string   `json:"variantTTL"`
	SegmentTTL             string   `json:"segmentTTL"`
	CacheBackend           string   `json:"cacheBackend"`
	CacheMaxBytes          int64    `json:"cacheMaxBytes"`
	CacheMaxEntryBytes     int64    `json:"cacheMaxEntryBytes"`
	UpstreamHeaderTimeout  string   `json:"upstreamHeaderTimeout"`
	UpstreamRateLimit      int      `json:"upstreamRateLimit"`
	MaxUpstreamConcurrency int      `json:"maxUpstreamConcurrency"`
	ManifestMarkers        []string `json:"manifestMarkers"`
	CompressManifests      bool     `json:"compressManifests"`
	LogLevel               string   `json:"logLevel"`
	ObfuscateUrls          bool     `json:"obfuscateUrls"`
}

// LoadConfig loads the configuration from path, falling back to defaults when the file
// is missing. A file that exists but cannot be parsed is an error: silently running with
// defaults would hide a broken deployment.
func LoadConfig(path string) (*Config, error) {
	cfg, err := loadFromFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = GetDefaultConfig()
	}

	validateAndSetDefaults(cfg)
	return cfg, nil
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
// Empty duration strings are left at zero so validation can default them.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		ListenAddr:             cf.ListenAddr,
		BaseURL:                cf.BaseURL,
		UpstreamBaseURL:        cf.UpstreamBaseURL,
		UserAgent:              cf.UserAgent,
		AcceptLanguage:         cf.AcceptLanguage,
		CacheBackend:           cf.CacheBackend,
		CacheMaxBytes:          cf.CacheMaxBytes,
		CacheMaxEntryBytes:     cf.CacheMaxEntryBytes,
		UpstreamRateLimit:      cf.UpstreamRateLimit,
		MaxUpstreamConcurrency: cf.MaxUpstreamConcurrency,
		ManifestMarkers:        cf.ManifestMarkers,
		CompressManifests:      cf.CompressManifests,
		LogLevel:               cf.LogLevel,
		ObfuscateUrls:          cf.ObfuscateUrls,
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"masterTTL", cf.MasterTTL, &config.MasterTTL},
		{"variantTTL", cf.VariantTTL, &config.VariantTTL},
		{"segmentTTL", cf.SegmentTTL, &config.SegmentTTL},
		{"upstreamHeaderTimeout", cf.UpstreamHeaderTimeout, &config.UpstreamHeaderTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return config, nil
}

// GetDefaultConfig returns the baseline configuration used when no file is present.
func GetDefaultConfig() *Config {
	return &Config{
		ListenAddr:             ":8080",
		UpstreamBaseURL:        "https://www.youtube.com",
		UserAgent:              DefaultUserAgent,
		AcceptLanguage:         "en-US,en;q=0.9",
		MasterTTL:              10 * time.Second,
		VariantTTL:             5 * time.Second,
		SegmentTTL:             30 * time.Second,
		CacheBackend:           BackendOtter,
		CacheMaxBytes:          256 << 20,
		CacheMaxEntryBytes:     16 << 20,
		UpstreamHeaderTimeout:  30 * time.Second,
		MaxUpstreamConcurrency: 256,
		ManifestMarkers:        []string{DefaultManifestMarker},
		CompressManifests:      true,
		LogLevel:               "INFO",
	}
}

// validateAndSetDefaults fills in defaults for missing or invalid values.
func validateAndSetDefaults(config *Config) {
	def := GetDefaultConfig()

	if config.ListenAddr == "" {
		config.ListenAddr = def.ListenAddr
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.UpstreamBaseURL == "" {
		config.UpstreamBaseURL = def.UpstreamBaseURL
	}
	config.UpstreamBaseURL = strings.TrimRight(config.UpstreamBaseURL, "/")
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}
	if config.AcceptLanguage == "" {
		config.AcceptLanguage = def.AcceptLanguage
	}
	if config.MasterTTL <= 0 {
		config.MasterTTL = def.MasterTTL
	}
	if config.VariantTTL <= 0 {
		config.VariantTTL = def.VariantTTL
	}
	if config.SegmentTTL <= 0 {
		config.SegmentTTL = def.SegmentTTL
	}
	switch config.CacheBackend {
	case BackendOtter, BackendRistretto:
	default:
		config.CacheBackend = def.CacheBackend
	}
	if config.CacheMaxBytes <= 0 {
		config.CacheMaxBytes = def.CacheMaxBytes
	}
	if config.CacheMaxEntryBytes <= 0 {
		config.CacheMaxEntryBytes = def.CacheMaxEntryBytes
	}
	if config.CacheMaxEntryBytes > config.CacheMaxBytes {
		config.CacheMaxEntryBytes = config.CacheMaxBytes
	}
	if config.UpstreamHeaderTimeout <= 0 {
		config.UpstreamHeaderTimeout = def.UpstreamHeaderTimeout
	}
	if config.UpstreamRateLimit < 0 {
		config.UpstreamRateLimit = 0
	}
	if config.MaxUpstreamConcurrency <= 0 {
		config.MaxUpstreamConcurrency = def.MaxUpstreamConcurrency
	}
	if len(config.ManifestMarkers) == 0 {
		config.ManifestMarkers = def.ManifestMarkers
	}
	if config.LogLevel == "" {
		config.LogLevel = def.LogLevel
	}
}

// TTLFor returns the cache lifetime configured for a tier name ("master", "variant", "segment").
func (c *Config) TTLFor(tier string) time.Duration {
	switch tier {
	case "master":
		return c.MasterTTL
	case "variant":
		return c.VariantTTL
	default:
		return c.SegmentTTL
	}
}

// CreateExampleConfig writes an example config file to path.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		ListenAddr:             ":8080",
		BaseURL:                "https://live.example.com",
		UpstreamBaseURL:        "https://www.youtube.com",
		UserAgent:              DefaultUserAgent,
		AcceptLanguage:         "en-US,en;q=0.9",
		MasterTTL:              "10s",
		VariantTTL:             "5s",
		SegmentTTL:             "30s",
		CacheBackend:           BackendOtter,
		CacheMaxBytes:          256 << 20,
		CacheMaxEntryBytes:     16 << 20,
		UpstreamHeaderTimeout:  "30s",
		UpstreamRateLimit:      0,
		MaxUpstreamConcurrency: 256,
		ManifestMarkers:        []string{DefaultManifestMarker},
		CompressManifests:      true,
		LogLevel:               "INFO",
		ObfuscateUrls:          true,
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
