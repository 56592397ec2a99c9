package sandbox

import (
	"bytes"
	"sync"
)

// TruncationMarker ends captured output that hit the capture limit.
const TruncationMarker = "\n[output truncated]\n"

// OutputBuffer is a bounded concurrency safe buffer for combined sandbox
// output. It keeps the first limit bytes, writes past the limit are accepted
// and discarded so the producing stream never blocks or fails.
type OutputBuffer struct {
	mu        sync.Mutex
	limit     int
	buf       bytes.Buffer
	truncated bool
}

// NewOutputBuffer creates a buffer that keeps up to limit bytes.
func NewOutputBuffer(limit int64) *OutputBuffer {
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	return &OutputBuffer{limit: int(limit)}
}

func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.limit - b.buf.Len()
	switch {
	case remaining <= 0:
		if len(p) > 0 {
			b.truncated = true
		}
	case len(p) > remaining:
		b.buf.Write(p[:remaining])
		b.truncated = true
	default:
		b.buf.Write(p)
	}

	return len(p), nil
}

// Bytes returns the captured output, ending in the truncation marker when the
// limit was hit.
func (b *OutputBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.truncated {
		return append([]byte(nil), b.buf.Bytes()...)
	}

	out := make([]byte, 0, b.buf.Len()+len(TruncationMarker))
	out = append(out, b.buf.Bytes()...)
	return append(out, TruncationMarker...)
}

// Truncated reports whether writes went past the limit.
func (b *OutputBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
