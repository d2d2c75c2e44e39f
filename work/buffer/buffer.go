package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// BufferPool hands out reusable byte buffers for capturing response bodies that are
// about to be cached. Buffers are capped: a capture that would exceed the limit is
// abandoned instead of growing without bound.
type BufferPool struct {
	pool  bytebufferpool.Pool
	limit int
}

// NewBufferPool creates a pool whose captures stop at limit bytes.
func NewBufferPool(limit int64) *BufferPool {
	return &BufferPool{limit: int(limit)}
}

// Limit returns the largest body a capture will hold.
func (bp *BufferPool) Limit() int {
	return bp.limit
}

// Capture starts a new bounded capture backed by a pooled buffer.
func (bp *BufferPool) Capture() *Capture {
	buf := bp.pool.Get()
	buf.Reset()
	return &Capture{pool: bp, buf: buf}
}

// Capture accumulates bytes until Release. Once the limit is exceeded it stops
// accumulating and reports Overflowed.
type Capture struct {
	pool     *BufferPool
	buf      *bytebufferpool.ByteBuffer
	overflow bool
}

// Write appends p unless the capture has overflowed. It never fails, so it can sit
// behind an io.TeeReader without disturbing the primary stream.
func (c *Capture) Write(p []byte) (int, error) {
	if c.overflow || c.buf == nil {
		return len(p), nil
	}
	if c.buf.Len()+len(p) > c.pool.limit {
		c.overflow = true
		c.buf.Reset()
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

// Overflowed reports whether more than the pool limit was written.
func (c *Capture) Overflowed() bool {
	return c.overflow
}

// Bytes returns a private copy of the captured bytes, safe to keep after Release.
func (c *Capture) Bytes() []byte {
	if c.buf == nil {
		return nil
	}
	out := make([]byte, c.buf.Len())
	copy(out, c.buf.B)
	return out
}

// Release returns the buffer to the pool. The capture must not be used afterwards.
func (c *Capture) Release() {
	if c.buf != nil {
		c.pool.pool.Put(c.buf)
		c.buf = nil
	}
}
