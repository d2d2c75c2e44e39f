package utils

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"ytlive-proxy/work/config"
)

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, rawURL string) string {
	if cfg != nil && cfg.ObfuscateUrls {
		return ObfuscateURL(rawURL)
	}
	return rawURL
}

// ObfuscateURL keeps scheme and host and masks everything that may carry a
// signed token (path, query, fragment). Upstream manifest URLs embed their
// signatures in the path, so the path is never logged in full.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil || u.Host == "" {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// IsAbsoluteHTTPURL reports whether s parses as an absolute http or https URL with a host.
func IsAbsoluteHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// ProxyBase returns the absolute URL of the incoming request with its query stripped.
// Rewritten playlists use it as the prefix of every emitted URL. When baseURL is set it
// replaces the scheme and host seen on the request.
func ProxyBase(r *http.Request, baseURL string) string {
	if baseURL != "" {
		return baseURL + r.URL.EscapedPath()
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}

	return scheme + "://" + r.Host + r.URL.EscapedPath()
}

// RequestURL returns the full absolute URL of the incoming request, query included.
func RequestURL(r *http.Request, baseURL string) string {
	base := ProxyBase(r, baseURL)
	if r.URL.RawQuery == "" {
		return base
	}
	return base + "?" + r.URL.RawQuery
}

// FormatBytes renders a byte count with a binary unit, e.g. 256 MiB.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
