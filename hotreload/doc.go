// Package hotreload watches asset files on disk and invokes reload
// callbacks when they change. Rapid write bursts from editors and
// exporters are coalesced through a debounce window so a save that
// touches a file several times triggers a single reload.
package hotreload
