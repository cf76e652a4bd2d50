// Package cache provides a generic, bounded LRU cache with pin-to-protect
// semantics for runtime assets.
//
// The cache is an acceleration layer, not the source of truth for resource
// liveness: entries hold strong references and are bounded by entry count and
// total memory. Pinned entries are exempt from every eviction routine.
package cache
