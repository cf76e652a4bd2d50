package assetgo

import (
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultMemoryPressureThreshold is the default live-memory threshold
	// (512 MiB).
	DefaultMemoryPressureThreshold = 512 * 1024 * 1024

	// DefaultPressureCheckInterval throttles CheckMemoryPressure.
	DefaultPressureCheckInterval = 5 * time.Second

	// DefaultPressureTarget is the fraction of current usage freed on a
	// pressure event.
	DefaultPressureTarget = 0.3
)

type options struct {
	logger   *Logger
	clock    clock.Clock
	resolver PathResolver

	fallbacks bool

	memoryLimit int64

	cacheMaxSize   int
	cacheMaxMemory int64

	poolSize  int64
	chunkSize int64

	uploadBandwidth    int64
	uploadMaxFrameTime time.Duration
	stagingSize        int64

	pressureThreshold int64
	pressureInterval  time.Duration
	pressureTarget    float64
}

// Option configures a Manager.
type Option func(*options)

// WithLogger sets the logger. Defaults to NoopLogger.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the time source shared by all components. Intended for
// tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithPathResolver sets the resolver that maps logical asset paths to
// loadable locations. Defaults to the identity resolver.
func WithPathResolver(r PathResolver) Option {
	return func(o *options) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithFallbackResources toggles fallback construction on load failure.
// Enabled by default.
func WithFallbackResources(enabled bool) Option {
	return func(o *options) {
		o.fallbacks = enabled
	}
}

// WithMemoryLimit sets a hard budget for pool-backed storage. 0 disables the
// limit.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithCacheSize bounds the LRU cache by entry count and memory.
func WithCacheSize(maxSize int, maxMemory int64) Option {
	return func(o *options) {
		o.cacheMaxSize = maxSize
		o.cacheMaxMemory = maxMemory
	}
}

// WithPoolSize sets the memory pool's block and chunk sizes.
func WithPoolSize(poolSize, chunkSize int64) Option {
	return func(o *options) {
		o.poolSize = poolSize
		o.chunkSize = chunkSize
	}
}

// WithUploadBudgets sets the upload bandwidth (bytes/second) and per-frame
// time budgets.
func WithUploadBudgets(bandwidth int64, maxFrameTime time.Duration) Option {
	return func(o *options) {
		o.uploadBandwidth = bandwidth
		o.uploadMaxFrameTime = maxFrameTime
	}
}

// WithStagingSize sets the size of the largest upload staging buffer.
func WithStagingSize(bytes int64) Option {
	return func(o *options) {
		o.stagingSize = bytes
	}
}

// WithMemoryPressureThreshold sets the live-memory threshold that triggers
// pressure handling.
func WithMemoryPressureThreshold(bytes int64) Option {
	return func(o *options) {
		o.pressureThreshold = bytes
	}
}

// WithPressureCheckInterval throttles how often CheckMemoryPressure runs a
// full check.
func WithPressureCheckInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pressureInterval = d
		}
	}
}

// WithPressureTarget sets the fraction of current usage freed on a pressure
// event.
func WithPressureTarget(fraction float64) Option {
	return func(o *options) {
		if fraction > 0 && fraction <= 1 {
			o.pressureTarget = fraction
		}
	}
}
