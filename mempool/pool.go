package mempool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/assetgo/internal/govern"
)

var (
	// ErrAllocationFailed is returned when the pool cannot serve a request.
	ErrAllocationFailed = errors.New("mempool: allocation failed")
	// ErrInvalidSize is returned for non-positive allocation sizes.
	ErrInvalidSize = errors.New("mempool: invalid allocation size")
)

const (
	// DefaultPoolSize is the default block size carved on preallocation (64 MiB).
	DefaultPoolSize = 64 * 1024 * 1024
	// DefaultChunkSize is the default chunk granularity (1 KiB).
	DefaultChunkSize = 1024
	// DefaultAlignment is the default allocation alignment (8 bytes).
	DefaultAlignment = 8
	// DefaultDefragThreshold triggers defragmentation at 50% free chunks.
	DefaultDefragThreshold = 0.5
)

// chunk is a sub-range of a block. Chunks of a block are kept ordered by
// offset and partition the block's byte range with no gaps and no overlaps.
type chunk struct {
	offset int64
	size   int64
	inUse  bool
}

type block struct {
	buf    []byte
	chunks []*chunk
}

// Allocation is a handle to pool-backed storage. It stays valid until
// Deallocate, Clear or Close.
type Allocation struct {
	buf    []byte
	blk    *block
	ch     *chunk
	pooled bool
}

// Bytes returns the backing storage.
func (a *Allocation) Bytes() []byte { return a.buf }

// Size returns the usable size in bytes.
func (a *Allocation) Size() int64 { return int64(len(a.buf)) }

// Pool is a chunked best-fit allocator guarded by a single mutex.
type Pool struct {
	mu sync.Mutex

	poolSize        int64
	chunkSize       int64
	defragThreshold float64
	enabled         bool

	blocks         []*block
	totalPoolSize  int64
	totalAllocated int64

	gov    *govern.Governor
	logger *slog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithPoolSize sets the block size used for preallocation and growth.
func WithPoolSize(size int64) Option {
	return func(p *Pool) {
		if size > 0 {
			p.poolSize = size
		}
	}
}

// WithChunkSize sets the chunk granularity.
func WithChunkSize(size int64) Option {
	return func(p *Pool) {
		if size > 0 {
			p.chunkSize = size
		}
	}
}

// WithDefragThreshold sets the free-chunk ratio above which deallocation
// triggers a merge pass.
func WithDefragThreshold(threshold float64) Option {
	return func(p *Pool) {
		if threshold > 0 && threshold <= 1 {
			p.defragThreshold = threshold
		}
	}
}

// WithGovernor routes block storage through a shared memory budget.
func WithGovernor(g *govern.Governor) Option {
	return func(p *Pool) {
		p.gov = g
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a Pool. Pooling is enabled by default.
func New(opts ...Option) *Pool {
	p := &Pool{
		poolSize:        DefaultPoolSize,
		chunkSize:       DefaultChunkSize,
		defragThreshold: DefaultDefragThreshold,
		enabled:         true,
		logger:          slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// EnablePooling toggles pooled allocation. When disabled, Allocate serves
// plain heap allocations and Deallocate is a no-op.
func (p *Pool) EnablePooling(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// SetPoolSize replaces the block size used for future block allocations.
func (p *Pool) SetPoolSize(size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size > 0 && size != p.poolSize {
		p.logger.Info("pool size changed", "old_bytes", p.poolSize, "new_bytes", size)
		p.poolSize = size
	}
}

// SetChunkSize replaces the chunk granularity for future blocks.
func (p *Pool) SetChunkSize(size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size > 0 {
		p.chunkSize = size
	}
}

// SetDefragThreshold replaces the defragmentation trigger ratio.
func (p *Pool) SetDefragThreshold(threshold float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if threshold > 0 && threshold <= 1 {
		p.defragThreshold = threshold
	}
}

// Allocate returns storage of at least size bytes, rounded up to align.
// It serves the smallest free chunk that fits (best-fit), splitting chunks
// that are more than one chunk-size increment larger than the request, and
// grows the pool by a new block when no chunk suffices.
func (p *Pool) Allocate(size, align int64) (*Allocation, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if align <= 0 {
		align = DefaultAlignment
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return &Allocation{buf: make([]byte, size)}, nil
	}

	alignedSize := (size + align - 1) &^ (align - 1)

	blk, ch := p.findFreeChunk(alignedSize)
	if ch == nil {
		var err error
		blk, ch, err = p.growForChunk(alignedSize)
		if err != nil {
			p.logger.Error("allocation failed", "bytes", size, "error", err)
			return nil, err
		}
	}

	ch.inUse = true
	p.totalAllocated += ch.size

	return &Allocation{
		buf:    blk.buf[ch.offset : ch.offset+ch.size : ch.offset+ch.size],
		blk:    blk,
		ch:     ch,
		pooled: true,
	}, nil
}

// Deallocate returns an allocation's chunk to the pool. When fragmentation
// exceeds the configured threshold afterwards, adjacent free chunks are
// merged. Safe to call with nil, an already-freed allocation, or an
// allocation whose block was released by Clear.
func (p *Pool) Deallocate(a *Allocation) {
	if a == nil || !a.pooled {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ownsBlock(a.blk) {
		return
	}
	if !a.ch.inUse {
		p.logger.Warn("double deallocation ignored", "bytes", a.ch.size)
		return
	}

	a.ch.inUse = false
	p.totalAllocated -= a.ch.size

	if p.shouldDefragment() {
		p.defragment()
	}
}

// PreallocatePool eagerly carves one block of poolSize into equal fixed-size
// chunks of chunkSize each.
func (p *Pool) PreallocatePool() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.gov.AcquireMemory(p.poolSize); err != nil {
		return fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}

	numChunks := p.poolSize / p.chunkSize
	blk := &block{
		buf:    make([]byte, p.poolSize),
		chunks: make([]*chunk, 0, numChunks),
	}
	for i := int64(0); i < numChunks; i++ {
		blk.chunks = append(blk.chunks, &chunk{
			offset: i * p.chunkSize,
			size:   p.chunkSize,
		})
	}

	p.blocks = append(p.blocks, blk)
	p.totalPoolSize += p.poolSize

	p.logger.Info("pool preallocated", "bytes", p.poolSize, "chunks", numChunks)
	return nil
}

// ShrinkToFit releases blocks with no in-use chunks.
func (p *Pool) ShrinkToFit() {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.blocks[:0]
	var freed int64
	for _, blk := range p.blocks {
		if blockInUse(blk) {
			kept = append(kept, blk)
			continue
		}
		freed += int64(len(blk.buf))
	}

	if freed > 0 {
		p.blocks = kept
		p.totalPoolSize -= freed
		p.gov.ReleaseMemory(freed)
		p.logger.Info("pool shrunk", "freed_bytes", freed)
	}
}

// Clear releases all blocks. Outstanding allocations become invalid.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gov.ReleaseMemory(p.totalPoolSize)
	p.blocks = nil
	p.totalPoolSize = 0
	p.totalAllocated = 0
}

// TotalAllocated returns the bytes currently handed out.
func (p *Pool) TotalAllocated() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalAllocated
}

// TotalPoolSize returns the total bytes owned by the pool.
func (p *Pool) TotalPoolSize() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalPoolSize
}

// GetFragmentation returns the percentage of chunks currently free.
func (p *Pool) GetFragmentation() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fragmentationLocked()
}

// GetUtilization returns allocated bytes / total pool bytes, in [0, 1].
func (p *Pool) GetUtilization() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.totalPoolSize == 0 {
		return 0
	}
	return float64(p.totalAllocated) / float64(p.totalPoolSize)
}

// findFreeChunk returns the smallest free chunk >= size, splitting it when it
// is more than one chunk-size increment larger than the request.
func (p *Pool) findFreeChunk(size int64) (*block, *chunk) {
	var (
		bestBlk *block
		best    *chunk
	)

	for _, blk := range p.blocks {
		for _, ch := range blk.chunks {
			if ch.inUse || ch.size < size {
				continue
			}
			if best == nil || ch.size < best.size {
				bestBlk, best = blk, ch
				if ch.size == size {
					break
				}
			}
		}
	}

	if best != nil && best.size > size+p.chunkSize {
		p.splitChunk(bestBlk, best, size)
	}

	return bestBlk, best
}

// growForChunk allocates a new block sized at least max(poolSize, 2*size) and
// returns its single free chunk, pre-split for the request.
func (p *Pool) growForChunk(size int64) (*block, *chunk, error) {
	blockSize := p.poolSize
	if size*2 > blockSize {
		blockSize = size * 2
	}

	if err := p.gov.AcquireMemory(blockSize); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}

	blk := &block{
		buf:    make([]byte, blockSize),
		chunks: []*chunk{{offset: 0, size: blockSize}},
	}
	p.blocks = append(p.blocks, blk)
	p.totalPoolSize += blockSize

	p.logger.Debug("pool grew", "block_bytes", blockSize)

	ch := blk.chunks[0]
	if ch.size > size+p.chunkSize {
		p.splitChunk(blk, ch, size)
	}
	return blk, ch, nil
}

// splitChunk shrinks ch to size and inserts a new free chunk covering the
// remainder directly after it, keeping the block partition intact.
func (p *Pool) splitChunk(blk *block, ch *chunk, size int64) {
	if ch.size <= size {
		return
	}

	rest := &chunk{
		offset: ch.offset + size,
		size:   ch.size - size,
	}
	ch.size = size

	for i, c := range blk.chunks {
		if c == ch {
			blk.chunks = append(blk.chunks[:i+1], append([]*chunk{rest}, blk.chunks[i+1:]...)...)
			return
		}
	}
}

// mergeAdjacentChunks coalesces neighboring free chunks within each block.
func (p *Pool) mergeAdjacentChunks() {
	for _, blk := range p.blocks {
		for i := 0; i+1 < len(blk.chunks); {
			cur, next := blk.chunks[i], blk.chunks[i+1]
			if !cur.inUse && !next.inUse && cur.offset+cur.size == next.offset {
				cur.size += next.size
				blk.chunks = append(blk.chunks[:i+1], blk.chunks[i+2:]...)
				continue
			}
			i++
		}
	}
}

func (p *Pool) defragment() {
	p.mergeAdjacentChunks()
	p.logger.Debug("pool defragmented", "fragmentation_pct", p.fragmentationLocked())
}

func (p *Pool) shouldDefragment() bool {
	return float64(p.fragmentationLocked())/100.0 > p.defragThreshold
}

func (p *Pool) fragmentationLocked() int {
	if p.totalPoolSize == 0 {
		return 0
	}

	free, total := 0, 0
	for _, blk := range p.blocks {
		for _, ch := range blk.chunks {
			total++
			if !ch.inUse {
				free++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return free * 100 / total
}

func (p *Pool) ownsBlock(blk *block) bool {
	for _, b := range p.blocks {
		if b == blk {
			return true
		}
	}
	return false
}

func blockInUse(blk *block) bool {
	for _, ch := range blk.chunks {
		if ch.inUse {
			return true
		}
	}
	return false
}
