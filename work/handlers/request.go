package handlers

import (
	"net/url"
	"strings"

	"ytlive-proxy/work/cache"
	"ytlive-proxy/work/playlist"
	"ytlive-proxy/work/utils"
)

const manifestExt = ".m3u8"

// RequestError is a client mistake answered with 400 and Message as the body.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

var (
	ErrUsage       = &RequestError{Message: "Usage: /@handle/stream.m3u8"}
	ErrUnsupported = &RequestError{Message: "Only .m3u8 supported"}
	ErrBadTarget   = &RequestError{Message: "Target must be an absolute http(s) URL"}
)

// Request is one parsed stream request.
type Request struct {
	Tier     cache.Tier
	Handle   string
	Filename string
	Target   string // upstream URL for the variant and segment tiers
}

// ParseRequest maps a request URL onto a pipeline tier. The first two non-empty path
// segments are the handle and the filename. A url query parameter selects the segment
// tier and takes precedence over variant; with neither, the handle's master playlist
// is requested.
func ParseRequest(u *url.URL) (Request, error) {
	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return Request{}, ErrUsage
	}

	req := Request{Handle: parts[0], Filename: parts[1]}
	if !strings.HasSuffix(req.Filename, manifestExt) {
		return Request{}, ErrUnsupported
	}

	q := u.Query()
	switch {
	case q.Has(playlist.SegmentParam):
		req.Tier = cache.TierSegment
		req.Target = q.Get(playlist.SegmentParam)
	case q.Has(playlist.VariantParam):
		req.Tier = cache.TierVariant
		req.Target = q.Get(playlist.VariantParam)
	default:
		req.Tier = cache.TierMaster
		return req, nil
	}

	if !utils.IsAbsoluteHTTPURL(req.Target) {
		return Request{}, ErrBadTarget
	}
	return req, nil
}

// Arg is what the tier's producer is called with.
func (r Request) Arg() string {
	if r.Tier == cache.TierMaster {
		return r.Handle
	}
	return r.Target
}
