package assetgo

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/benbjohnson/clock"

	"github.com/hupe1980/assetgo/cache"
	"github.com/hupe1980/assetgo/internal/govern"
	"github.com/hupe1980/assetgo/mempool"
	"github.com/hupe1980/assetgo/upload"
	"github.com/hupe1980/assetgo/usage"
)

// ResourcePtr constrains P to a pointer to a concrete resource type that
// embeds BaseResource.
type ResourcePtr[T any] interface {
	*T
	Resource
}

type registryKey struct {
	typ  reflect.Type
	path string
}

// registryEntry holds a non-owning reference to a live resource. The deref
// closure type-erases a weak pointer to the concrete resource type.
type registryEntry struct {
	typeName string
	deref    func() (Resource, bool)
}

// Manager orchestrates the resource lifecycle: a weak registry keyed by
// (type, path), an LRU cache, a memory pool, an upload scheduler and a usage
// tracker, plus the memory-pressure response policy.
//
// The registry never extends a resource's lifetime: entries hold weak
// references and a resource lives exactly as long as its strong holders
// (callers, and the cache while the entry is cached).
type Manager struct {
	mu       sync.Mutex
	registry map[registryKey]*registryEntry
	closed   bool

	cache    *cache.LRU[Resource]
	tracker  *usage.Tracker
	pool     *mempool.Pool
	uploader *upload.Scheduler
	gov      *govern.Governor

	resolver PathResolver
	clock    clock.Clock
	logger   *Logger

	cacheEnabled  atomic.Bool
	uploadEnabled atomic.Bool
	fallbacks     atomic.Bool

	pressureThreshold atomic.Int64
	pressureInterval  time.Duration
	lastPressureCheck time.Time // guarded by mu
	pressureTarget    float64

	hits           atomic.Uint64
	misses         atomic.Uint64
	failures       atomic.Uint64
	pressureEvents atomic.Uint64
}

// New creates a Manager. Caching, pooling and upload optimization start
// enabled; fallback resources start enabled.
func New(opts ...Option) *Manager {
	o := &options{
		logger:            NoopLogger(),
		clock:             clock.New(),
		resolver:          identityResolver(),
		fallbacks:         true,
		pressureThreshold: DefaultMemoryPressureThreshold,
		pressureInterval:  DefaultPressureCheckInterval,
		pressureTarget:    DefaultPressureTarget,
	}
	for _, opt := range opts {
		opt(o)
	}

	var gov *govern.Governor
	if o.memoryLimit > 0 {
		gov = govern.New(govern.Config{MemoryLimitBytes: o.memoryLimit})
	}

	poolOpts := []mempool.Option{
		mempool.WithGovernor(gov),
		mempool.WithLogger(o.logger.Logger),
	}
	if o.poolSize > 0 {
		poolOpts = append(poolOpts, mempool.WithPoolSize(o.poolSize))
	}
	if o.chunkSize > 0 {
		poolOpts = append(poolOpts, mempool.WithChunkSize(o.chunkSize))
	}

	uploadOpts := []upload.Option{
		upload.WithClock(o.clock),
		upload.WithLogger(o.logger.Logger),
		upload.WithStaging(upload.NewStaging(o.stagingSize)),
	}
	if o.uploadBandwidth > 0 {
		uploadOpts = append(uploadOpts, upload.WithBandwidth(o.uploadBandwidth))
	}
	if o.uploadMaxFrameTime > 0 {
		uploadOpts = append(uploadOpts, upload.WithMaxFrameTime(o.uploadMaxFrameTime))
	}

	m := &Manager{
		registry: make(map[registryKey]*registryEntry),
		cache: cache.New[Resource](o.cacheMaxSize, o.cacheMaxMemory,
			cache.WithClock[Resource](o.clock)),
		tracker: usage.NewTracker(
			usage.WithClock(o.clock),
			usage.WithLogger(o.logger.Logger),
		),
		pool:             mempool.New(poolOpts...),
		uploader:         upload.NewScheduler(uploadOpts...),
		gov:              gov,
		resolver:         o.resolver,
		clock:            o.clock,
		logger:           o.logger,
		pressureInterval: o.pressureInterval,
		pressureTarget:   o.pressureTarget,
	}
	m.cacheEnabled.Store(true)
	m.uploadEnabled.Store(true)
	m.fallbacks.Store(o.fallbacks)
	m.pressureThreshold.Store(o.pressureThreshold)

	return m
}

// Load returns the shared resource of type T for path, constructing and
// loading it on first use. Concurrent loads of the same key return the same
// instance while any strong holder keeps it alive.
//
// On load failure with fallbacks enabled and T implementing Defaulter, a
// default-constructed resource is returned instead of an error.
func Load[T any, P ResourcePtr[T]](m *Manager, path string) (P, error) {
	var zero P
	if path == "" {
		return zero, &LoadError{Path: path, Type: typeNameFor[T](), cause: ErrNotFound}
	}

	key := registryKey{typ: reflect.TypeFor[T](), path: path}
	typeName := typeNameFor[T]()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return zero, ErrManagerClosed
	}
	if ent, ok := m.registry[key]; ok {
		if res, alive := ent.deref(); alive {
			m.mu.Unlock()
			m.hits.Add(1)
			res.Touch(m.clock.Now())
			m.tracker.TrackAccess(path)
			if m.cacheEnabled.Load() {
				m.cache.Get(cacheKeyFor(typeName, path))
			}
			return res.(P), nil
		}
		// Lazy purge: an expired entry is a miss, not a stale hit.
		delete(m.registry, key)
	}
	m.mu.Unlock()

	m.misses.Add(1)

	rp, fallback, err := constructResource[T, P](m, path, typeName)
	if err != nil {
		m.logger.LogLoad(typeName, path, 0, false, err)
		return zero, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return zero, ErrManagerClosed
	}
	if ent, ok := m.registry[key]; ok {
		if res, alive := ent.deref(); alive {
			// Lost a construction race; share the winner.
			m.mu.Unlock()
			return res.(P), nil
		}
	}
	wp := weak.Make((*T)(rp))
	m.registry[key] = &registryEntry{
		typeName: typeName,
		deref: func() (Resource, bool) {
			if p := wp.Value(); p != nil {
				return P(p), true
			}
			return nil, false
		},
	}
	m.mu.Unlock()

	m.tracker.TrackLoad(path, typeName, rp.MemoryUsage())
	if m.cacheEnabled.Load() {
		m.cache.Put(cacheKeyFor(typeName, path), Resource(rp))
	}
	m.dispatchUpload(rp)
	m.logger.LogLoad(typeName, path, rp.MemoryUsage(), fallback, nil)

	return rp, nil
}

// Unload removes the registry entry for (T, path). Resources with other
// strong holders stay alive; the cache entry is dropped regardless.
func Unload[T any, P ResourcePtr[T]](m *Manager, path string) {
	key := registryKey{typ: reflect.TypeFor[T](), path: path}
	typeName := typeNameFor[T]()

	m.mu.Lock()
	_, ok := m.registry[key]
	delete(m.registry, key)
	m.mu.Unlock()

	if !ok {
		return
	}

	m.cache.Remove(cacheKeyFor(typeName, path))
	m.tracker.TrackUnload(path)
	m.logger.LogUnload(typeName, path)
}

// Pin protects the cached entry for (T, path) from every eviction routine.
func Pin[T any, P ResourcePtr[T]](m *Manager, path string) {
	m.cache.Pin(cacheKeyFor(typeNameFor[T](), path))
}

// Unpin clears the eviction protection for (T, path).
func Unpin[T any, P ResourcePtr[T]](m *Manager, path string) {
	m.cache.Unpin(cacheKeyFor(typeNameFor[T](), path))
}

// UnloadAll clears the registry, cache and usage records.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	m.registry = make(map[registryKey]*registryEntry)
	m.mu.Unlock()

	m.cache.Clear()
	m.tracker.Clear()
	m.logger.Info("all resources unloaded")
}

// UnloadUnused purges registry entries whose weak reference has expired.
// Returns the number purged.
func (m *Manager) UnloadUnused() int {
	m.mu.Lock()
	var purged []string
	for key, ent := range m.registry {
		if _, alive := ent.deref(); !alive {
			delete(m.registry, key)
			purged = append(purged, key.path)
		}
	}
	m.mu.Unlock()

	for _, path := range purged {
		m.tracker.TrackUnload(path)
	}
	if len(purged) > 0 {
		m.logger.Debug("expired resources purged", "count", len(purged))
	}
	return len(purged)
}

// UnloadLeastRecentlyUsed evicts live resources oldest-first until
// targetBytes have been freed or half of the live set has been removed,
// whichever comes first. Pinned cache entries are never touched. Returns the
// bytes freed.
func (m *Manager) UnloadLeastRecentlyUsed(targetBytes int64) int64 {
	type liveResource struct {
		key registryKey
		res Resource
	}

	m.mu.Lock()
	live := make([]liveResource, 0, len(m.registry))
	for key, ent := range m.registry {
		if res, alive := ent.deref(); alive {
			live = append(live, liveResource{key: key, res: res})
		}
	}
	m.mu.Unlock()

	sort.Slice(live, func(i, j int) bool {
		return live[i].res.LastAccess().Before(live[j].res.LastAccess())
	})

	// Safety cap: never evict more than half the live set in one pass.
	maxRemove := (len(live) + 1) / 2

	var freed int64
	removed := 0
	for _, lr := range live {
		if removed >= maxRemove || (targetBytes > 0 && freed >= targetBytes) {
			break
		}

		ckey := cacheKeyFor(lr.key.typ.Name(), lr.key.path)
		if m.cache.IsPinned(ckey) {
			continue
		}

		m.mu.Lock()
		delete(m.registry, lr.key)
		m.mu.Unlock()
		m.cache.Remove(ckey)
		m.tracker.TrackUnload(lr.key.path)

		freed += lr.res.MemoryUsage()
		removed++
	}

	if removed > 0 {
		m.logger.LogEviction(removed, freed)
	}
	return freed
}

// CheckMemoryPressure compares live memory usage against the configured
// threshold, at most once per check interval. On breach it runs the pressure
// response. Returns true when pressure handling ran.
func (m *Manager) CheckMemoryPressure() bool {
	m.mu.Lock()
	now := m.clock.Now()
	if now.Sub(m.lastPressureCheck) < m.pressureInterval {
		m.mu.Unlock()
		return false
	}
	m.lastPressureCheck = now
	m.mu.Unlock()

	threshold := m.pressureThreshold.Load()
	if threshold <= 0 {
		return false
	}
	used := m.GetMemoryUsage()
	if used <= threshold {
		return false
	}

	events := m.pressureEvents.Add(1)
	m.logger.LogMemoryPressure(used, threshold, events)
	m.HandleMemoryPressure()
	return true
}

// HandleMemoryPressure purges expired references and, if usage still exceeds
// the threshold, evicts least-recently-used resources targeting the
// configured fraction of current usage.
func (m *Manager) HandleMemoryPressure() {
	start := m.clock.Now()

	m.UnloadUnused()

	threshold := m.pressureThreshold.Load()
	used := m.GetMemoryUsage()
	if threshold > 0 && used > threshold {
		target := int64(float64(used) * m.pressureTarget)
		m.UnloadLeastRecentlyUsed(target)
	}

	m.logger.LogPressureResolved(m.GetMemoryUsage(), m.clock.Since(start))
}

// SetMemoryPressureThreshold replaces the live-memory threshold in bytes.
func (m *Manager) SetMemoryPressureThreshold(bytes int64) {
	m.pressureThreshold.Store(bytes)
}

// EnableMemoryPooling toggles pooled payload allocation.
func (m *Manager) EnableMemoryPooling(enabled bool) {
	m.pool.EnablePooling(enabled)
}

// EnableLRUCache toggles the cache acceleration layer. Disabling clears it.
func (m *Manager) EnableLRUCache(enabled bool) {
	m.cacheEnabled.Store(enabled)
	if !enabled {
		m.cache.Clear()
	}
}

// EnableGPUUploadOptimization toggles deferred device uploads. While
// disabled, GPU-bound resources upload synchronously during Load.
func (m *Manager) EnableGPUUploadOptimization(enabled bool) {
	m.uploadEnabled.Store(enabled)
	if !enabled {
		m.uploader.Flush()
	}
}

// SetFallbackResourcesEnabled toggles fallback construction on load failure.
func (m *Manager) SetFallbackResourcesEnabled(enabled bool) {
	m.fallbacks.Store(enabled)
}

// IsFallbackResourcesEnabled reports whether fallbacks are enabled.
func (m *Manager) IsFallbackResourcesEnabled() bool {
	return m.fallbacks.Load()
}

// SetMemoryPoolSize replaces the pool's block size for future growth.
func (m *Manager) SetMemoryPoolSize(bytes int64) {
	m.pool.SetPoolSize(bytes)
}

// SetLRUCacheSize replaces the cache bounds.
func (m *Manager) SetLRUCacheSize(maxSize int, maxMemory int64) {
	m.cache.SetMaxSize(maxSize)
	m.cache.SetMaxMemory(maxMemory)
}

// SetGPUUploadBandwidth replaces the upload bandwidth budget in bytes per
// second.
func (m *Manager) SetGPUUploadBandwidth(bytesPerSec int64) {
	m.uploader.SetBandwidth(bytesPerSec)
}

// ProcessUploads executes up to maxPerFrame pending device uploads within
// the configured budgets. Call once per frame.
func (m *Manager) ProcessUploads(maxPerFrame int) int {
	return m.uploader.ProcessUploads(maxPerFrame)
}

// Pool returns the backing memory pool.
func (m *Manager) Pool() *mempool.Pool { return m.pool }

// Uploader returns the upload scheduler.
func (m *Manager) Uploader() *upload.Scheduler { return m.uploader }

// Tracker returns the usage tracker.
func (m *Manager) Tracker() *usage.Tracker { return m.tracker }

// Close drains pending uploads, then releases the cache, registry and pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	err := m.uploader.Close()

	m.mu.Lock()
	m.registry = make(map[registryKey]*registryEntry)
	m.mu.Unlock()
	m.cache.Clear()
	m.tracker.Clear()
	m.pool.Clear()

	m.logger.Info("resource manager closed")
	return err
}

// constructResource builds and loads a new resource. Construction panics are
// contained; allocation failures trigger a corrective pressure pass and one
// retry before falling back.
func constructResource[T any, P ResourcePtr[T]](m *Manager, path, typeName string) (P, bool, error) {
	var zero P

	rp := P(new(T))
	rp.base().initResource(path, m.clock.Now())

	var rt *releaseTracker
	if pb, ok := any(rp).(PoolBacked); ok {
		rt = &releaseTracker{pool: m.pool}
		pb.AttachAllocator(rt)
	}

	err := m.loadPayload(rp, typeName, path)
	if err != nil && isAllocFailure(err) {
		rt.release()
		m.HandleMemoryPressure()
		err = m.loadPayload(rp, typeName, path)
	}
	if err == nil {
		registerRelease(rp, rt)
		return rp, false, nil
	}

	m.failures.Add(1)
	rt.release()

	if m.fallbacks.Load() {
		if d, ok := any(rp).(Defaulter); ok {
			d.CreateDefault()
			registerRelease(rp, rt)
			return rp, true, nil
		}
	}
	return zero, false, err
}

// registerRelease arranges for a pool-backed resource's allocations to return
// to the pool once the resource itself is collected. The tracker must not
// reference the resource, or the cleanup would never run.
func registerRelease[T any, P ResourcePtr[T]](rp P, rt *releaseTracker) {
	if rt == nil {
		return
	}
	runtime.AddCleanup((*T)(rp), func(rt *releaseTracker) { rt.release() }, rt)
}

// loadPayload resolves the path and runs the resource's loader and validator
// capabilities. Panics from foreign loader code are contained here.
func (m *Manager) loadPayload(r Resource, typeName, path string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &LoadError{Path: path, Type: typeName, cause: fmt.Errorf("loader panic: %v", rec)}
			m.logger.Error("loader panicked", "type", typeName, "path", path, "panic", rec)
		}
	}()

	fl, hasLoader := r.(FileLoader)
	if !hasLoader {
		// Ready on construction.
		return nil
	}

	resolved, ok := m.resolver.Resolve(path)
	if !ok {
		return &LoadError{Path: path, Type: typeName, cause: ErrNotFound}
	}

	if err := fl.LoadFromFile(resolved); err != nil {
		return &LoadError{Path: path, Type: typeName, cause: err}
	}

	if v, ok := r.(Validator); ok {
		if err := v.Validate(); err != nil {
			return &ValidationError{Path: path, cause: err}
		}
	}
	return nil
}

// dispatchUpload hands a GPU-bound resource to the scheduler, or uploads it
// synchronously when upload optimization is disabled.
func (m *Manager) dispatchUpload(r Resource) {
	du, ok := r.(DeviceUploader)
	if !ok {
		return
	}

	if m.uploadEnabled.Load() {
		priority := 0
		if p, ok := r.(interface{ UploadPriority() int }); ok {
			priority = p.UploadPriority()
		}
		m.uploader.ScheduleFunc(du.UploadToDevice, r.MemoryUsage(), priority)
		return
	}

	if err := du.UploadToDevice(); err != nil {
		m.failures.Add(1)
		m.logger.Error("synchronous upload failed", "path", r.Path(), "error", err)
	}
}

func isAllocFailure(err error) bool {
	return errors.Is(err, mempool.ErrAllocationFailed) ||
		errors.Is(err, govern.ErrMemoryLimitExceeded)
}

func cacheKeyFor(typeName, path string) string {
	return typeName + ":" + path
}

func typeNameFor[T any]() string {
	return reflect.TypeFor[T]().Name()
}
