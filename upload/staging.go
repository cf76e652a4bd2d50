package upload

import (
	"sync"

	"github.com/pierrec/lz4/v4"
)

// DefaultStagingSize is the default size of the largest staging buffer (8 MiB).
const DefaultStagingSize = 8 * 1024 * 1024

// Buffer is a reusable staging buffer.
type Buffer struct {
	buf   []byte
	inUse bool
}

// Bytes returns the buffer's storage.
func (b *Buffer) Bytes() []byte { return b.buf }

// Size returns the buffer capacity in bytes.
func (b *Buffer) Size() int64 { return int64(len(b.buf)) }

// Staging holds a small set of preallocated upload buffers in stepped sizes
// so payloads of different magnitudes do not contend for one buffer.
type Staging struct {
	mu      sync.Mutex
	buffers []*Buffer
}

// NewStaging preallocates buffers of maxSize/4, maxSize/2 and maxSize bytes.
func NewStaging(maxSize int64) *Staging {
	if maxSize <= 0 {
		maxSize = DefaultStagingSize
	}

	st := &Staging{}
	for _, size := range []int64{maxSize / 4, maxSize / 2, maxSize} {
		if size > 0 {
			st.buffers = append(st.buffers, &Buffer{buf: make([]byte, size)})
		}
	}
	return st
}

// Acquire returns a free buffer of at least minSize bytes, or nil when none
// is available.
func (s *Staging) Acquire(minSize int64) *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.buffers {
		if !b.inUse && b.Size() >= minSize {
			b.inUse = true
			return b
		}
	}
	return nil
}

// Release returns a buffer to the set.
func (s *Staging) Release(b *Buffer) {
	if b == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b.inUse = false
}

// Clear drops all buffers. Outstanding buffers stay usable by their holders
// but are no longer reissued.
func (s *Staging) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers = nil
}

// Compress returns the lz4 block compression of payload and true when it is
// smaller than the input. Incompressible payloads are returned unchanged with
// false.
func Compress(payload []byte) ([]byte, bool) {
	if len(payload) == 0 {
		return payload, false
	}

	dst := make([]byte, lz4.CompressBlockBound(len(payload)))
	var c lz4.Compressor
	n, err := c.CompressBlock(payload, dst)
	if err != nil || n == 0 || n >= len(payload) {
		return payload, false
	}
	return dst[:n], true
}

// Decompress reverses Compress. maxSize bounds the decompressed size.
func Decompress(payload []byte, maxSize int) ([]byte, error) {
	dst := make([]byte, maxSize)
	n, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}
