// Package usage tracks per-resource access patterns and scores resources for
// eviction.
//
// The tracker is a passive observer: it never owns resources and its
// bookkeeping is independent from any cache's recency order. Scores combine
// recency, memory footprint and inverse access frequency; a higher score marks
// a stronger eviction candidate.
package usage
