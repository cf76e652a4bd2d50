// Package assetgo manages the lifecycle of runtime-loaded assets: loading
// with shared identity, LRU caching with pinning, pooled payload memory,
// bandwidth-throttled device uploads and usage-based eviction under memory
// pressure.
//
// A Manager hands out shared resource instances keyed by concrete type and
// path. References held by the manager are weak, so a resource lives exactly
// as long as its callers (and the cache) keep it:
//
//	m := assetgo.New(
//		assetgo.WithMemoryLimit(512 << 20),
//		assetgo.WithCacheSize(200, 256<<20),
//	)
//	defer m.Close()
//
//	tex, err := assetgo.Load[Texture](m, "textures/wall.png")
//	if err != nil {
//		log.Fatal(err)
//	}
//	_ = tex
//
// Concrete resource types embed BaseResource and opt into capabilities by
// implementing FileLoader, Defaulter, Validator, DeviceUploader or
// PoolBacked.
package assetgo
