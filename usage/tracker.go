package usage

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Score weights. Tunable policy, not a hard contract: the monotonic
// relationships (older, larger, less accessed -> higher score) must hold.
const (
	recencyWeight   = 0.5
	memoryWeight    = 0.3
	frequencyWeight = 0.2
)

// DefaultMaxTracked bounds the tracker's own memory use.
const DefaultMaxTracked = 10000

// Record holds the usage bookkeeping for one resource path.
type Record struct {
	Path        string
	Type        string
	MemoryUsage int64
	AccessCount uint64
	LastAccess  time.Time
	LoadTime    time.Time
}

// Score computes the eviction score of the record at time now.
// Higher score = stronger eviction candidate (old, large, rarely used).
func (r *Record) Score(now time.Time) float64 {
	timeScore := now.Sub(r.LastAccess).Hours()
	memScore := float64(r.MemoryUsage) / (1024 * 1024)
	accessScore := 1.0
	if r.AccessCount > 0 {
		accessScore = 1.0 / float64(r.AccessCount)
	}

	return timeScore*recencyWeight + memScore*memoryWeight + accessScore*frequencyWeight
}

// Statistics is an aggregate snapshot of the tracked resources.
type Statistics struct {
	TotalResources   int
	TotalMemoryUsage int64
	TotalAccessCount uint64
	ResourcesByType  map[string]int
	MemoryByType     map[string]int64
	MostUsed         []Record
	Largest          []Record
	LeastUsed        []Record
}

// Tracker records per-resource access patterns.
type Tracker struct {
	mu         sync.Mutex
	records    map[string]*Record
	maxTracked int
	clock      clock.Clock
	logger     *slog.Logger

	statsCache *Statistics
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source. Intended for tests.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithMaxTracked caps the number of tracked resources; on overflow the oldest
// 10% of entries are dropped.
func WithMaxTracked(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxTracked = n
		}
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker creates a Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		records:    make(map[string]*Record),
		maxTracked: DefaultMaxTracked,
		clock:      clock.New(),
		logger:     slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// TrackLoad records a freshly loaded resource. The load counts as the first
// access.
func (t *Tracker) TrackLoad(path, typ string, memoryUsage int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.records[path] = &Record{
		Path:        path,
		Type:        typ,
		MemoryUsage: memoryUsage,
		AccessCount: 1,
		LastAccess:  now,
		LoadTime:    now,
	}
	t.statsCache = nil

	if len(t.records) > t.maxTracked {
		t.dropOldestLocked(len(t.records) / 10)
	}
}

// TrackAccess refreshes the access time and counter for path. Unknown paths
// are ignored.
func (t *Tracker) TrackAccess(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records[path]; ok {
		rec.AccessCount++
		rec.LastAccess = t.clock.Now()
		t.statsCache = nil
	}
}

// TrackUnload removes the record for path.
func (t *Tracker) TrackUnload(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[path]; ok {
		delete(t.records, path)
		t.statsCache = nil
	}
}

// UpdateMemoryUsage replaces the recorded footprint for path.
func (t *Tracker) UpdateMemoryUsage(path string, memoryUsage int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.records[path]; ok {
		rec.MemoryUsage = memoryUsage
		t.statsCache = nil
	}
}

// Len returns the number of tracked resources.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// TotalMemoryUsage sums the recorded footprints.
func (t *Tracker) TotalMemoryUsage() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total int64
	for _, rec := range t.records {
		total += rec.MemoryUsage
	}
	return total
}

// LRUCandidates returns up to n paths sorted by descending eviction score.
func (t *Tracker) LRUCandidates(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.candidatesLocked(n)
}

// EvictionCandidates returns paths in descending score order whose cumulative
// memory reaches targetBytes, or every tracked path if the target cannot be
// met.
func (t *Tracker) EvictionCandidates(targetBytes int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		result []string
		freed  int64
	)
	for _, path := range t.candidatesLocked(len(t.records)) {
		rec := t.records[path]
		result = append(result, path)
		freed += rec.MemoryUsage
		if freed >= targetBytes {
			break
		}
	}
	return result
}

// MemoryHeavyResources returns up to n paths sorted by descending footprint.
func (t *Tracker) MemoryHeavyResources(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	recs := t.recordsSliceLocked()
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].MemoryUsage > recs[j].MemoryUsage
	})

	if n > len(recs) {
		n = len(recs)
	}
	paths := make([]string, 0, n)
	for _, rec := range recs[:n] {
		paths = append(paths, rec.Path)
	}
	return paths
}

// Statistics returns an aggregate snapshot. The snapshot is cached until the
// next mutation.
func (t *Tracker) Statistics() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statsCache == nil {
		t.statsCache = t.buildStatsLocked()
	}
	return *t.statsCache
}

// RemoveOldEntries drops records whose last access is older than maxAge.
// Returns the number removed.
func (t *Tracker) RemoveOldEntries(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.clock.Now().Add(-maxAge)
	removed := 0
	for path, rec := range t.records {
		if rec.LastAccess.Before(cutoff) {
			delete(t.records, path)
			removed++
		}
	}

	if removed > 0 {
		t.statsCache = nil
		t.logger.Debug("removed stale usage records", "count", removed)
	}
	return removed
}

// Clear drops all records.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = make(map[string]*Record)
	t.statsCache = nil
}

func (t *Tracker) candidatesLocked(n int) []string {
	now := t.clock.Now()
	recs := t.recordsSliceLocked()
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Score(now) > recs[j].Score(now)
	})

	if n > len(recs) {
		n = len(recs)
	}
	paths := make([]string, 0, n)
	for _, rec := range recs[:n] {
		paths = append(paths, rec.Path)
	}
	return paths
}

func (t *Tracker) recordsSliceLocked() []*Record {
	recs := make([]*Record, 0, len(t.records))
	for _, rec := range t.records {
		recs = append(recs, rec)
	}
	return recs
}

// dropOldestLocked removes the n least recently accessed records (at least
// one).
func (t *Tracker) dropOldestLocked(n int) {
	if n <= 0 {
		n = 1
	}

	recs := t.recordsSliceLocked()
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].LastAccess.Before(recs[j].LastAccess)
	})

	if n > len(recs) {
		n = len(recs)
	}
	for _, rec := range recs[:n] {
		delete(t.records, rec.Path)
	}
	t.statsCache = nil

	t.logger.Debug("dropped oldest usage records", "count", n)
}

func (t *Tracker) buildStatsLocked() *Statistics {
	stats := &Statistics{
		ResourcesByType: make(map[string]int),
		MemoryByType:    make(map[string]int64),
	}

	recs := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		stats.TotalResources++
		stats.TotalMemoryUsage += rec.MemoryUsage
		stats.TotalAccessCount += rec.AccessCount
		stats.ResourcesByType[rec.Type]++
		stats.MemoryByType[rec.Type] += rec.MemoryUsage
		recs = append(recs, *rec)
	}

	top := len(recs)
	if top > 10 {
		top = 10
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].AccessCount > recs[j].AccessCount })
	stats.MostUsed = append([]Record(nil), recs[:top]...)

	sort.Slice(recs, func(i, j int) bool { return recs[i].MemoryUsage > recs[j].MemoryUsage })
	stats.Largest = append([]Record(nil), recs[:top]...)

	now := t.clock.Now()
	sort.Slice(recs, func(i, j int) bool { return recs[i].Score(now) > recs[j].Score(now) })
	stats.LeastUsed = append([]Record(nil), recs[:top]...)

	return stats
}
