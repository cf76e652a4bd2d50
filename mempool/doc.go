// Package mempool provides a chunked best-fit memory pool used as an optional
// backing store for resource payloads.
//
// Storage is held in large blocks subdivided into chunk records of explicit
// offset ranges; split and merge operations always preserve the exact byte
// range owned by a block. When pooling is disabled the pool degrades to plain
// heap allocations served by the runtime.
package mempool
