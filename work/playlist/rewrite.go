// Package playlist rewrites HLS manifests so that every reference points back at the proxy.
package playlist

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/grafana/regexp"
)

// ContentType is the MIME type of every manifest the proxy emits.
const ContentType = "application/vnd.apple.mpegurl"

// Query parameters carrying the upstream target of a rewritten URL.
const (
	VariantParam = "variant"
	SegmentParam = "url"
)

// absoluteURL matches URLs embedded anywhere in master playlist text, including inside
// quoted tag attributes such as URI="...".
var absoluteURL = regexp.MustCompile(`https?://[^\s,"']+`)

// ProxyURL returns proxyBase?param=<escaped target>.
func ProxyURL(proxyBase, param, target string) string {
	return proxyBase + "?" + param + "=" + url.QueryEscape(target)
}

// RewriteMaster replaces every absolute URL in a master playlist with a variant proxy URL.
// The rewrite is textual so URLs inside tag attributes are covered too.
func RewriteMaster(body, proxyBase string) string {
	return absoluteURL.ReplaceAllStringFunc(body, func(m string) string {
		return ProxyURL(proxyBase, VariantParam, m)
	})
}

// RewriteVariant rewrites every segment reference in a variant playlist into a segment
// proxy URL. References are resolved against variantURL. Blank lines and lines starting
// with '#' are copied unchanged and line order is preserved.
func RewriteVariant(body, variantURL, proxyBase string) (string, error) {
	base, err := url.Parse(variantURL)
	if err != nil {
		return "", fmt.Errorf("parse variant url: %w", err)
	}

	lines := strings.Split(body, "\n")
	for i, line := range lines {
		ref, cr := strings.CutSuffix(line, "\r")
		if strings.TrimSpace(ref) == "" || strings.HasPrefix(ref, "#") {
			continue
		}

		u, err := url.Parse(strings.TrimSpace(ref))
		if err != nil {
			return "", fmt.Errorf("line %d: parse segment reference: %w", i+1, err)
		}

		rewritten := ProxyURL(proxyBase, SegmentParam, base.ResolveReference(u).String())
		if cr {
			rewritten += "\r"
		}
		lines[i] = rewritten
	}

	return strings.Join(lines, "\n"), nil
}
