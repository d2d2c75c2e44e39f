package cache

import (
	"bytes"
	"io"
	"net/http"
	"time"
)

// Tier is one of the three cached pipeline stages.
type Tier string

const (
	TierMaster  Tier = "master"
	TierVariant Tier = "variant"
	TierSegment Tier = "segment"
)

// Response is what a producer hands back: status, headers and a body that may be
// streamed straight from upstream.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser

	// Content is set when the response replays a stored entry. It reads the same
	// bytes as Body and lets byte-range requests be answered from the copy.
	Content io.ReadSeeker
}

// IsSuccess reports whether status is in the 2xx range.
func IsSuccess(status int) bool {
	return status >= 200 && status < 300
}

// Entry is a stored response. Entries are immutable once written; readers get their
// own header copy and reader.
type Entry struct {
	Status    int
	Header    http.Header
	Body      []byte
	ExpiresAt time.Time
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Response returns a fresh Response replaying the entry.
func (e *Entry) Response() *Response {
	content := bytes.NewReader(e.Body)
	return &Response{
		Status:  e.Status,
		Header:  e.Header.Clone(),
		Body:    io.NopCloser(content),
		Content: content,
	}
}

// weight approximates the memory an entry holds, used by size-bounded stores.
func (e *Entry) weight(key string) int64 {
	w := int64(len(key) + len(e.Body))
	for name, values := range e.Header {
		w += int64(len(name))
		for _, v := range values {
			w += int64(len(v))
		}
	}
	return w
}
