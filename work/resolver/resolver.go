// Package resolver discovers the HLS manifest URL embedded in a live page.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/grafana/regexp"

	"ytlive-proxy/work/client"
	"ytlive-proxy/work/logger"
	"ytlive-proxy/work/metrics"
)

// ErrManifestNotFound is returned when no candidate page embeds a manifest URL.
var ErrManifestNotFound = errors.New("manifest not found")

// Resolver maps a stream handle to the upstream master manifest URL.
type Resolver interface {
	Resolve(ctx context.Context, handle string) (string, error)
}

// Candidate builds one upstream page URL for a handle.
type Candidate struct {
	Name  string
	Build func(base, handle string) string
}

// DefaultCandidates are tried in order: handle page, channel page, watch page.
var DefaultCandidates = []Candidate{
	{Name: "handle", Build: func(base, handle string) string {
		return base + "/" + url.PathEscape(handle) + "/live"
	}},
	{Name: "channel", Build: func(base, handle string) string {
		return base + "/channel/" + url.PathEscape(handle) + "/live"
	}},
	{Name: "watch", Build: func(base, handle string) string {
		return base + "/watch?v=" + url.QueryEscape(handle)
	}},
}

// PageResolver fetches candidate pages sequentially and scans each for the first
// marker that matches.
type PageResolver struct {
	fetcher    client.Fetcher
	base       string
	candidates []Candidate
	markers    []*regexp.Regexp
}

// NewPageResolver compiles markers; each must have at least one capture group holding
// the manifest URL.
func NewPageResolver(fetcher client.Fetcher, base string, markers []string) (*PageResolver, error) {
	compiled := make([]*regexp.Regexp, 0, len(markers))
	for _, m := range markers {
		re, err := regexp.Compile(m)
		if err != nil {
			return nil, fmt.Errorf("compile manifest marker %q: %w", m, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("manifest marker %q has no capture group", m)
		}
		compiled = append(compiled, re)
	}
	if len(compiled) == 0 {
		return nil, errors.New("no manifest markers configured")
	}

	return &PageResolver{
		fetcher:    fetcher,
		base:       strings.TrimRight(base, "/"),
		candidates: DefaultCandidates,
		markers:    compiled,
	}, nil
}

// Resolve returns the manifest URL from the first candidate page that carries one.
// Later candidates are not fetched once a match is found. A transport failure aborts
// the search; a page without a marker moves on to the next candidate.
func (pr *PageResolver) Resolve(ctx context.Context, handle string) (string, error) {
	for _, c := range pr.candidates {
		pageURL := c.Build(pr.base, handle)

		body, status, err := client.FetchText(ctx, pr.fetcher, "page", pageURL)
		if err != nil {
			return "", fmt.Errorf("fetch %s page: %w", c.Name, err)
		}

		if manifest, ok := pr.Extract(body); ok {
			logger.Debug("{resolver - Resolve} %s matched on %s candidate (status %d)", handle, c.Name, status)
			metrics.Resolutions.WithLabelValues(c.Name).Inc()
			return manifest, nil
		}

		logger.Debug("{resolver - Resolve} no manifest marker on %s candidate for %s (status %d)", c.Name, handle, status)
	}

	metrics.Resolutions.WithLabelValues("none").Inc()
	return "", ErrManifestNotFound
}

// Extract applies the markers in order and returns the decoded manifest URL of the first match.
func (pr *PageResolver) Extract(page string) (string, bool) {
	for _, re := range pr.markers {
		if m := re.FindStringSubmatch(page); m != nil && m[1] != "" {
			return DecodeManifestURL(m[1]), true
		}
	}
	return "", false
}

var jsonEscapes = strings.NewReplacer(`\u0026`, "&", `\/`, "/")

// DecodeManifestURL undoes the JSON string escaping used in page markup and then
// percent-decoding. If percent-decoding fails the JSON-unescaped text is returned.
func DecodeManifestURL(raw string) string {
	s := jsonEscapes.Replace(raw)
	if decoded, err := url.PathUnescape(s); err == nil {
		return decoded
	}
	return s
}
