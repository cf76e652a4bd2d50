package assetgo

// ResourceStats summarizes one resource type's live footprint.
type ResourceStats struct {
	Type        string
	Count       int
	MemoryUsage int64
}

// Counters holds the manager's lifetime counters.
type Counters struct {
	Hits           uint64
	Misses         uint64
	Failures       uint64
	PressureEvents uint64
}

// GetResourceStats walks the live registry and aggregates per-type counts
// and memory usage.
func (m *Manager) GetResourceStats() map[string]ResourceStats {
	stats := make(map[string]ResourceStats)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ent := range m.registry {
		res, alive := ent.deref()
		if !alive {
			continue
		}
		s := stats[ent.typeName]
		s.Type = ent.typeName
		s.Count++
		s.MemoryUsage += res.MemoryUsage()
		stats[ent.typeName] = s
	}
	return stats
}

// GetMemoryUsage returns the total memory usage of all live resources.
func (m *Manager) GetMemoryUsage() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, ent := range m.registry {
		if res, alive := ent.deref(); alive {
			total += res.MemoryUsage()
		}
	}
	return total
}

// GetResourceCount returns the number of live resources.
func (m *Manager) GetResourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, ent := range m.registry {
		if _, alive := ent.deref(); alive {
			count++
		}
	}
	return count
}

// GetCounters returns a snapshot of the lifetime counters.
func (m *Manager) GetCounters() Counters {
	return Counters{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		Failures:       m.failures.Load(),
		PressureEvents: m.pressureEvents.Load(),
	}
}

// GetLRUCacheHitRatio returns the cache hit ratio in [0, 1].
func (m *Manager) GetLRUCacheHitRatio() float64 {
	return m.cache.HitRatio()
}

// GetMemoryPoolUtilization returns allocated pool bytes over total pool
// bytes, in [0, 1].
func (m *Manager) GetMemoryPoolUtilization() float64 {
	return m.pool.GetUtilization()
}

// GetGPUUploadQueueSize returns the number of pending device uploads.
func (m *Manager) GetGPUUploadQueueSize() int {
	return m.uploader.PendingCount()
}
