package cache

import (
	"container/list"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Sizer reports the memory footprint of a cached value.
type Sizer interface {
	MemoryUsage() int64
}

// DefaultMaxSize is the default entry limit.
const DefaultMaxSize = 100

// DefaultMaxMemory is the default memory limit (256 MiB).
const DefaultMaxMemory = 256 * 1024 * 1024

type entry[T Sizer] struct {
	key         string
	value       T
	lastAccess  time.Time
	accessCount uint64
	pinned      bool
}

// LRU is a thread-safe LRU cache bounded by entry count and total memory.
// The recency list keeps the most recently used entry at the front.
type LRU[T Sizer] struct {
	mu        sync.Mutex
	maxSize   int
	maxMemory int64
	items     map[string]*list.Element
	evictList *list.List
	clock     clock.Clock

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// Option configures an LRU cache.
type Option[T Sizer] func(*LRU[T])

// WithClock sets the time source. Intended for tests.
func WithClock[T Sizer](c clock.Clock) Option[T] {
	return func(l *LRU[T]) {
		l.clock = c
	}
}

// New creates an LRU cache bounded by maxSize entries and maxMemory bytes.
// Non-positive bounds fall back to the defaults.
func New[T Sizer](maxSize int, maxMemory int64, opts ...Option[T]) *LRU[T] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if maxMemory <= 0 {
		maxMemory = DefaultMaxMemory
	}

	l := &LRU[T]{
		maxSize:   maxSize,
		maxMemory: maxMemory,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		clock:     clock.New(),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Get returns the cached value for key, promoting it to most recently used.
func (l *LRU[T]) Get(key string) (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		ent := el.Value.(*entry[T])
		ent.lastAccess = l.clock.Now()
		ent.accessCount++
		l.evictList.MoveToFront(el)
		l.hits.Add(1)
		return ent.value, true
	}

	l.misses.Add(1)
	var zero T
	return zero, false
}

// Put inserts or updates an entry at the most-recently-used position, then
// evicts until the cache is within its size and memory bounds.
func (l *LRU[T]) Put(key string, value T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		ent := el.Value.(*entry[T])
		ent.value = value
		ent.lastAccess = l.clock.Now()
		ent.accessCount++
		l.evictList.MoveToFront(el)
	} else {
		l.items[key] = l.evictList.PushFront(&entry[T]{
			key:        key,
			value:      value,
			lastAccess: l.clock.Now(),
		})
	}

	// An update can grow an entry past the memory bound, not just an insert.
	for l.shouldEvict() {
		if !l.evictOldestUnpinned() {
			break
		}
	}
}

// Remove deletes an entry regardless of pinning.
func (l *LRU[T]) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		l.removeElement(el)
	}
}

// Clear removes all entries and resets statistics.
func (l *LRU[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = make(map[string]*list.Element)
	l.evictList.Init()
	l.hits.Store(0)
	l.misses.Store(0)
	l.evictions.Store(0)
}

// Pin marks an entry as exempt from eviction.
func (l *LRU[T]) Pin(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		el.Value.(*entry[T]).pinned = true
	}
}

// Unpin clears the eviction exemption.
func (l *LRU[T]) Unpin(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		el.Value.(*entry[T]).pinned = false
	}
}

// IsPinned reports whether an entry is pinned.
func (l *LRU[T]) IsPinned(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if el, ok := l.items[key]; ok {
		return el.Value.(*entry[T]).pinned
	}
	return false
}

// EvictLRU removes up to count least-recently-used unpinned entries and
// returns the number removed.
func (l *LRU[T]) EvictLRU(count int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for i := 0; i < count; i++ {
		if !l.evictOldestUnpinned() {
			break
		}
		removed++
	}
	return removed
}

// EvictByMemory evicts least-recently-used unpinned entries until total
// memory is at or below targetMemory. Returns the number removed.
func (l *LRU[T]) EvictByMemory(targetMemory int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for l.memoryLocked() > targetMemory {
		if !l.evictOldestUnpinned() {
			break
		}
		removed++
	}
	return removed
}

// EvictOlderThan removes unpinned entries not accessed within maxAge.
// Returns the number removed.
func (l *LRU[T]) EvictOlderThan(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-maxAge)
	removed := 0

	var el *list.Element
	for e := l.evictList.Back(); e != nil; e = el {
		el = e.Prev()
		ent := e.Value.(*entry[T])
		if ent.pinned || !ent.lastAccess.Before(cutoff) {
			continue
		}
		l.removeElement(e)
		l.evictions.Add(1)
		removed++
	}
	return removed
}

// Contains reports whether key is cached, without promoting it.
func (l *LRU[T]) Contains(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.items[key]
	return ok
}

// Keys returns all cached keys, most recently used first.
func (l *LRU[T]) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, l.evictList.Len())
	for e := l.evictList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*entry[T]).key)
	}
	return keys
}

// Len returns the number of cached entries.
func (l *LRU[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.evictList.Len()
}

// MemoryUsage returns the total memory footprint of all cached values.
func (l *LRU[T]) MemoryUsage() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.memoryLocked()
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (l *LRU[T]) HitRatio() float64 {
	hits := l.hits.Load()
	total := hits + l.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Stats returns the raw hit, miss and eviction counters.
func (l *LRU[T]) Stats() (hits, misses, evictions int64) {
	return l.hits.Load(), l.misses.Load(), l.evictions.Load()
}

// ResetStats zeroes the hit, miss and eviction counters.
func (l *LRU[T]) ResetStats() {
	l.hits.Store(0)
	l.misses.Store(0)
	l.evictions.Store(0)
}

// SetMaxSize replaces the entry limit. Takes effect on the next Put.
func (l *LRU[T]) SetMaxSize(maxSize int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if maxSize > 0 {
		l.maxSize = maxSize
	}
}

// SetMaxMemory replaces the memory limit. Takes effect on the next Put.
func (l *LRU[T]) SetMaxMemory(maxMemory int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if maxMemory > 0 {
		l.maxMemory = maxMemory
	}
}

// Optimize reorders the recency list by descending access count as a locality
// heuristic. Lookup results are unaffected.
func (l *LRU[T]) Optimize() {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]*entry[T], 0, l.evictList.Len())
	for e := l.evictList.Front(); e != nil; e = e.Next() {
		entries = append(entries, e.Value.(*entry[T]))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].accessCount > entries[j].accessCount
	})

	l.evictList.Init()
	for _, ent := range entries {
		l.items[ent.key] = l.evictList.PushBack(ent)
	}
}

func (l *LRU[T]) shouldEvict() bool {
	return l.evictList.Len() > l.maxSize || l.memoryLocked() > l.maxMemory
}

// evictOldestUnpinned removes the least-recently-used unpinned entry.
// Returns false when only pinned entries (or nothing) remain, so that every
// eviction loop terminates.
func (l *LRU[T]) evictOldestUnpinned() bool {
	for e := l.evictList.Back(); e != nil; e = e.Prev() {
		if e.Value.(*entry[T]).pinned {
			continue
		}
		l.removeElement(e)
		l.evictions.Add(1)
		return true
	}
	return false
}

func (l *LRU[T]) removeElement(e *list.Element) {
	ent := e.Value.(*entry[T])
	l.evictList.Remove(e)
	delete(l.items, ent.key)
}

func (l *LRU[T]) memoryLocked() int64 {
	var total int64
	for e := l.evictList.Front(); e != nil; e = e.Next() {
		total += e.Value.(*entry[T]).value.MemoryUsage()
	}
	return total
}
