package govern

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the
// configured memory budget.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource budgets.
type Config struct {
	// MemoryLimitBytes is the hard limit for governed memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64
}

// Governor tracks and limits backing memory shared across components.
// A nil *Governor is valid and enforces nothing.
type Governor struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64
}

// New creates a new Governor.
func New(cfg Config) *Governor {
	g := &Governor{cfg: cfg}

	if cfg.MemoryLimitBytes > 0 {
		g.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	return g
}

// AcquireMemory attempts to reserve memory.
// Returns ErrMemoryLimitExceeded if the budget would be exceeded.
// Non-blocking - callers control retry/backoff policy.
func (g *Governor) AcquireMemory(bytes int64) error {
	if g == nil || bytes <= 0 {
		return nil
	}

	if g.memSem != nil {
		if !g.memSem.TryAcquire(bytes) {
			return ErrMemoryLimitExceeded
		}
	}

	g.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory releases reserved memory.
func (g *Governor) ReleaseMemory(bytes int64) {
	if g == nil || bytes <= 0 {
		return
	}

	if g.memSem != nil {
		g.memSem.Release(bytes)
	}
	g.memUsed.Add(-bytes)
}

// MemoryUsage returns the currently reserved memory in bytes.
func (g *Governor) MemoryUsage() int64 {
	if g == nil {
		return 0
	}
	return g.memUsed.Load()
}

// MemoryLimit returns the configured memory budget in bytes (0 if unlimited).
func (g *Governor) MemoryLimit() int64 {
	if g == nil {
		return 0
	}
	return g.cfg.MemoryLimitBytes
}
