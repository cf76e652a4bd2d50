package assetgo

import (
	"sync"
	"time"

	"github.com/hupe1980/assetgo/mempool"
)

// Resource is the base contract of a runtime asset: identity, memory
// footprint and access timestamps. Concrete resource types embed BaseResource
// and may shadow MemoryUsage with a type-specific computation.
type Resource interface {
	Path() string
	MemoryUsage() int64
	LoadTime() time.Time
	LastAccess() time.Time
	Touch(now time.Time)

	base() *BaseResource
}

// FileLoader is implemented by resource types that load payload data from a
// resolved file path. Types without it are considered ready on construction.
type FileLoader interface {
	LoadFromFile(path string) error
}

// Defaulter is implemented by resource types that can construct a usable
// default payload when loading fails and fallbacks are enabled.
type Defaulter interface {
	CreateDefault()
}

// Validator is implemented by resource types that can check their payload
// after loading. A validation error is treated like a load failure.
type Validator interface {
	Validate() error
}

// DeviceUploader is implemented by GPU-bound resource types. Uploads are
// deferred through the upload scheduler when upload optimization is enabled.
type DeviceUploader interface {
	UploadToDevice() error
}

// Allocator serves backing storage for resource payloads.
type Allocator interface {
	Allocate(size, align int64) (*mempool.Allocation, error)
	Deallocate(a *mempool.Allocation)
}

// PoolBacked is implemented by resource types that satisfy payload
// allocations through the manager's memory pool. The allocator is attached
// before LoadFromFile runs; allocations made through it are returned to the
// pool automatically once the resource is collected.
type PoolBacked interface {
	AttachAllocator(alloc Allocator)
}

// releaseTracker wraps the pool so a resource's outstanding allocations can
// be returned when the resource's lifetime ends.
type releaseTracker struct {
	mu     sync.Mutex
	pool   *mempool.Pool
	allocs []*mempool.Allocation
}

func (rt *releaseTracker) Allocate(size, align int64) (*mempool.Allocation, error) {
	a, err := rt.pool.Allocate(size, align)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	rt.allocs = append(rt.allocs, a)
	rt.mu.Unlock()
	return a, nil
}

func (rt *releaseTracker) Deallocate(a *mempool.Allocation) {
	rt.mu.Lock()
	for i, held := range rt.allocs {
		if held == a {
			rt.allocs = append(rt.allocs[:i], rt.allocs[i+1:]...)
			break
		}
	}
	rt.mu.Unlock()
	rt.pool.Deallocate(a)
}

// release returns every outstanding allocation to the pool.
func (rt *releaseTracker) release() {
	if rt == nil {
		return
	}
	rt.mu.Lock()
	allocs := rt.allocs
	rt.allocs = nil
	rt.mu.Unlock()

	for _, a := range allocs {
		rt.pool.Deallocate(a)
	}
}

// PathResolver maps a logical asset path to a loadable location.
// An external asset-manager component typically implements search-root
// resolution; the default resolver returns the path unchanged.
type PathResolver interface {
	Resolve(path string) (resolved string, ok bool)
}

// PathResolverFunc adapts a function to the PathResolver interface.
type PathResolverFunc func(path string) (string, bool)

// Resolve implements PathResolver.
func (f PathResolverFunc) Resolve(path string) (string, bool) { return f(path) }

func identityResolver() PathResolver {
	return PathResolverFunc(func(path string) (string, bool) { return path, true })
}

// BaseResource carries the shared bookkeeping of every resource. Embed it in
// concrete resource types.
type BaseResource struct {
	mu         sync.Mutex
	path       string
	memory     int64
	loadTime   time.Time
	lastAccess time.Time
}

// Path returns the resource's identity path.
func (b *BaseResource) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// MemoryUsage returns the bookkept footprint. Concrete types with a computed
// footprint shadow this method.
func (b *BaseResource) MemoryUsage() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.memory
}

// SetMemoryUsage records the resource's footprint.
func (b *BaseResource) SetMemoryUsage(bytes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memory = bytes
}

// LoadTime returns when the resource was constructed.
func (b *BaseResource) LoadTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadTime
}

// LastAccess returns the most recent access time.
func (b *BaseResource) LastAccess() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAccess
}

// Touch updates the last access time.
func (b *BaseResource) Touch(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastAccess = now
}

func (b *BaseResource) base() *BaseResource { return b }

func (b *BaseResource) initResource(path string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.path = path
	b.loadTime = now
	b.lastAccess = now
}
