package assetgo

import (
	"bytes"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testTexture is a GPU-bound resource with a fallback payload.
type testTexture struct {
	BaseResource
	data      []byte
	defaulted bool
	uploads   atomic.Int32
}

func (t *testTexture) LoadFromFile(path string) error {
	if strings.Contains(path, "corrupt") {
		return errors.New("bad header")
	}
	t.data = bytes.Repeat([]byte{0xAB}, 1024)
	t.SetMemoryUsage(int64(len(t.data)))
	return nil
}

func (t *testTexture) CreateDefault() {
	t.data = []byte{0xFF, 0x00, 0xFF, 0xFF}
	t.defaulted = true
	t.SetMemoryUsage(int64(len(t.data)))
}

func (t *testTexture) UploadToDevice() error {
	t.uploads.Add(1)
	return nil
}

// testMesh allocates its payload from the manager's memory pool.
type testMesh struct {
	BaseResource
	alloc Allocator
	block []byte
}

func (m *testMesh) AttachAllocator(a Allocator) { m.alloc = a }

func (m *testMesh) LoadFromFile(path string) error {
	a, err := m.alloc.Allocate(2048, 8)
	if err != nil {
		return err
	}
	m.block = a.Bytes()
	m.SetMemoryUsage(a.Size())
	return nil
}

// testBlob has no upload or fallback capability.
type testBlob struct {
	BaseResource
}

func (b *testBlob) LoadFromFile(path string) error {
	b.SetMemoryUsage(1024)
	return nil
}

// testMaterial validates its payload after loading.
type testMaterial struct {
	BaseResource
	defaulted bool
}

func (m *testMaterial) LoadFromFile(path string) error {
	m.SetMemoryUsage(64)
	return nil
}

func (m *testMaterial) Validate() error {
	if strings.Contains(m.Path(), "invalid") {
		return errors.New("checksum mismatch")
	}
	return nil
}

func (m *testMaterial) CreateDefault() { m.defaulted = true }

// testProcedural is ready on construction.
type testProcedural struct {
	BaseResource
}

func TestManagerLoad(t *testing.T) {
	t.Run("repeated loads share one instance", func(t *testing.T) {
		m := New()
		defer m.Close()

		a, err := Load[testTexture](m, "textures/wall.png")
		require.NoError(t, err)
		require.NotNil(t, a)

		b, err := Load[testTexture](m, "textures/wall.png")
		require.NoError(t, err)
		assert.Same(t, a, b)

		c := m.GetCounters()
		assert.Equal(t, uint64(1), c.Hits)
		assert.Equal(t, uint64(1), c.Misses)
		assert.Equal(t, 1, m.GetResourceCount())
	})

	t.Run("same path different types are distinct", func(t *testing.T) {
		m := New()
		defer m.Close()

		tex, err := Load[testTexture](m, "shared/asset")
		require.NoError(t, err)
		blob, err := Load[testBlob](m, "shared/asset")
		require.NoError(t, err)

		assert.Equal(t, "shared/asset", tex.Path())
		assert.Equal(t, "shared/asset", blob.Path())
		assert.Equal(t, 2, m.GetResourceCount())
	})

	t.Run("unload forces a fresh instance", func(t *testing.T) {
		m := New()
		defer m.Close()

		a, err := Load[testTexture](m, "textures/wall.png")
		require.NoError(t, err)

		Unload[testTexture](m, "textures/wall.png")

		b, err := Load[testTexture](m, "textures/wall.png")
		require.NoError(t, err)
		assert.NotSame(t, a, b)
	})

	t.Run("empty path fails", func(t *testing.T) {
		m := New()
		defer m.Close()

		_, err := Load[testTexture](m, "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("types without a loader are ready on construction", func(t *testing.T) {
		m := New()
		defer m.Close()

		r, err := Load[testProcedural](m, "procedural/sky")
		require.NoError(t, err)
		assert.Equal(t, "procedural/sky", r.Path())
	})

	t.Run("load after close fails", func(t *testing.T) {
		m := New()
		require.NoError(t, m.Close())

		_, err := Load[testTexture](m, "textures/wall.png")
		assert.ErrorIs(t, err, ErrManagerClosed)
	})
}

func TestManagerWeakExpiry(t *testing.T) {
	m := New()
	defer m.Close()
	m.EnableLRUCache(false)

	func() {
		r, err := Load[testBlob](m, "transient.bin")
		require.NoError(t, err)
		require.NotNil(t, r)
	}()

	// Once the only strong holder is gone, the registry entry must expire.
	assert.Eventually(t, func() bool {
		runtime.GC()
		return m.GetResourceCount() == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, m.UnloadUnused(), 0)

	// A later load constructs a new instance rather than failing.
	r, err := Load[testBlob](m, "transient.bin")
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestManagerCacheKeepsResourcesAlive(t *testing.T) {
	m := New()
	defer m.Close()

	func() {
		_, err := Load[testBlob](m, "cached.bin")
		require.NoError(t, err)
	}()

	// The cache still holds a strong reference after the caller dropped its
	// own, so the instance survives collection.
	runtime.GC()
	runtime.GC()
	assert.Equal(t, 1, m.GetResourceCount())
}

func TestManagerFallbacks(t *testing.T) {
	t.Run("load failure falls back to default", func(t *testing.T) {
		m := New()
		defer m.Close()

		tex, err := Load[testTexture](m, "textures/corrupt.png")
		require.NoError(t, err)
		assert.True(t, tex.defaulted)
		assert.Equal(t, uint64(1), m.GetCounters().Failures)
	})

	t.Run("validation failure falls back to default", func(t *testing.T) {
		m := New()
		defer m.Close()

		mat, err := Load[testMaterial](m, "materials/invalid.json")
		require.NoError(t, err)
		assert.True(t, mat.defaulted)
	})

	t.Run("disabled fallbacks surface the load error", func(t *testing.T) {
		m := New(WithFallbackResources(false))
		defer m.Close()

		_, err := Load[testTexture](m, "textures/corrupt.png")
		var le *LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, "textures/corrupt.png", le.Path)
		assert.Equal(t, "testTexture", le.Type)
	})

	t.Run("disabled fallbacks surface the validation error", func(t *testing.T) {
		m := New(WithFallbackResources(false))
		defer m.Close()

		_, err := Load[testMaterial](m, "materials/invalid.json")
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("types without defaults always surface errors", func(t *testing.T) {
		m := New(WithPathResolver(PathResolverFunc(func(string) (string, bool) {
			return "", false
		})))
		defer m.Close()

		_, err := Load[testBlob](m, "missing.bin")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("toggle at runtime", func(t *testing.T) {
		m := New()
		defer m.Close()

		assert.True(t, m.IsFallbackResourcesEnabled())
		m.SetFallbackResourcesEnabled(false)
		assert.False(t, m.IsFallbackResourcesEnabled())

		_, err := Load[testTexture](m, "textures/corrupt.png")
		assert.Error(t, err)
	})
}

func TestManagerUploads(t *testing.T) {
	t.Run("deferred through the scheduler", func(t *testing.T) {
		m := New()
		defer m.Close()

		tex, err := Load[testTexture](m, "textures/wall.png")
		require.NoError(t, err)

		assert.Equal(t, 1, m.GetGPUUploadQueueSize())
		assert.Equal(t, int32(0), tex.uploads.Load())

		assert.Equal(t, 1, m.ProcessUploads(10))
		assert.Equal(t, int32(1), tex.uploads.Load())
	})

	t.Run("synchronous when optimization disabled", func(t *testing.T) {
		m := New()
		defer m.Close()
		m.EnableGPUUploadOptimization(false)

		tex, err := Load[testTexture](m, "textures/wall.png")
		require.NoError(t, err)

		assert.Equal(t, int32(1), tex.uploads.Load())
		assert.Equal(t, 0, m.GetGPUUploadQueueSize())
	})
}

func TestManagerPooledResources(t *testing.T) {
	m := New(WithPoolSize(64*1024, 1024))
	defer m.Close()

	mesh, err := Load[testMesh](m, "meshes/rock.obj")
	require.NoError(t, err)

	assert.Len(t, mesh.block, 2048)
	assert.Equal(t, int64(2048), mesh.MemoryUsage())
	assert.Greater(t, m.GetMemoryPoolUtilization(), 0.0)
}

func TestManagerPooledResourceRelease(t *testing.T) {
	m := New(WithPoolSize(64*1024, 1024))
	defer m.Close()
	m.EnableLRUCache(false)

	func() {
		mesh, err := Load[testMesh](m, "meshes/rock.obj")
		require.NoError(t, err)
		require.Len(t, mesh.block, 2048)
	}()
	require.Equal(t, int64(2048), m.Pool().TotalAllocated())

	Unload[testMesh](m, "meshes/rock.obj")

	// The chunk must return to the pool once the resource is collected.
	assert.Eventually(t, func() bool {
		runtime.GC()
		return m.Pool().TotalAllocated() == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, m.GetMemoryPoolUtilization())
}

func TestManagerUnloadLeastRecentlyUsed(t *testing.T) {
	mock := clock.NewMock()
	m := New(WithClock(mock))
	defer m.Close()

	// Keep strong references so nothing expires on its own.
	blobs := make([]*testBlob, 0, 4)
	for _, path := range []string{"a.bin", "b.bin", "c.bin", "d.bin"} {
		b, err := Load[testBlob](m, path)
		require.NoError(t, err)
		blobs = append(blobs, b)
		mock.Add(time.Minute)
	}

	t.Run("evicts oldest first up to the target", func(t *testing.T) {
		freed := m.UnloadLeastRecentlyUsed(1500)

		assert.Equal(t, int64(2048), freed)
		assert.Equal(t, 2, m.GetResourceCount())
	})

	t.Run("never evicts more than half the live set", func(t *testing.T) {
		freed := m.UnloadLeastRecentlyUsed(1 << 40)

		assert.Equal(t, int64(1024), freed)
		assert.Equal(t, 1, m.GetResourceCount())
	})

	_ = blobs
}

func TestManagerPinnedResourcesSurviveEviction(t *testing.T) {
	mock := clock.NewMock()
	m := New(WithClock(mock))
	defer m.Close()

	pinned, err := Load[testBlob](m, "pinned.bin")
	require.NoError(t, err)
	mock.Add(time.Minute)
	other, err := Load[testBlob](m, "other.bin")
	require.NoError(t, err)

	Pin[testBlob](m, "pinned.bin")

	// The pinned resource is the oldest, yet eviction must skip it.
	m.UnloadLeastRecentlyUsed(1 << 40)

	stats := m.GetResourceStats()
	require.Contains(t, stats, "testBlob")
	assert.Equal(t, 1, stats["testBlob"].Count)
	assert.Equal(t, "pinned.bin", pinned.Path())

	Unpin[testBlob](m, "pinned.bin")
	m.UnloadLeastRecentlyUsed(1 << 40)
	assert.Equal(t, 0, m.GetResourceCount())

	_ = other
}

func TestManagerMemoryPressure(t *testing.T) {
	mock := clock.NewMock()
	m := New(
		WithClock(mock),
		WithMemoryPressureThreshold(1000),
		WithPressureCheckInterval(5*time.Second),
	)
	defer m.Close()

	blobs := make([]*testBlob, 0, 4)
	for _, path := range []string{"a.bin", "b.bin", "c.bin", "d.bin"} {
		b, err := Load[testBlob](m, path)
		require.NoError(t, err)
		blobs = append(blobs, b)
		mock.Add(time.Second)
	}
	require.Equal(t, int64(4096), m.GetMemoryUsage())

	assert.True(t, m.CheckMemoryPressure())
	assert.Equal(t, uint64(1), m.GetCounters().PressureEvents)

	// Pressure handling evicted towards the target, capped at half the set.
	assert.Equal(t, 2, m.GetResourceCount())

	// Checks are throttled to the configured interval.
	assert.False(t, m.CheckMemoryPressure())
	mock.Add(5 * time.Second)
	assert.True(t, m.CheckMemoryPressure())

	_ = blobs
}

func TestManagerStats(t *testing.T) {
	m := New()
	defer m.Close()

	_, err := Load[testTexture](m, "textures/wall.png")
	require.NoError(t, err)
	_, err = Load[testTexture](m, "textures/floor.png")
	require.NoError(t, err)
	_, err = Load[testBlob](m, "data.bin")
	require.NoError(t, err)

	stats := m.GetResourceStats()
	assert.Equal(t, 2, stats["testTexture"].Count)
	assert.Equal(t, int64(2048), stats["testTexture"].MemoryUsage)
	assert.Equal(t, 1, stats["testBlob"].Count)

	assert.Equal(t, int64(3072), m.GetMemoryUsage())
	assert.Equal(t, 3, m.GetResourceCount())
	assert.Equal(t, 3, m.Tracker().Len())
}

func TestManagerCacheHitRatio(t *testing.T) {
	m := New()
	defer m.Close()

	r, err := Load[testBlob](m, "a.bin")
	require.NoError(t, err)
	_, err = Load[testBlob](m, "a.bin")
	require.NoError(t, err)

	assert.Greater(t, m.GetLRUCacheHitRatio(), 0.0)
	_ = r
}

func TestManagerUnloadAll(t *testing.T) {
	m := New()
	defer m.Close()

	r, err := Load[testBlob](m, "a.bin")
	require.NoError(t, err)

	m.UnloadAll()

	assert.Equal(t, 0, m.GetResourceCount())
	assert.Equal(t, 0, m.Tracker().Len())
	_ = r
}

func TestManagerRuntimeTuning(t *testing.T) {
	m := New()
	defer m.Close()

	// None of these may disturb already-loaded resources.
	r, err := Load[testBlob](m, "a.bin")
	require.NoError(t, err)

	m.SetMemoryPoolSize(128 * 1024)
	m.SetLRUCacheSize(10, 1<<20)
	m.SetGPUUploadBandwidth(1 << 20)
	m.SetMemoryPressureThreshold(1 << 30)
	m.EnableMemoryPooling(false)
	m.EnableLRUCache(false)
	m.EnableLRUCache(true)

	assert.Equal(t, "a.bin", r.Path())
	assert.Equal(t, 1, m.GetResourceCount())
}
