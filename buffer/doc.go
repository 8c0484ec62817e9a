// Package buffer holds security events and metrics in two bounded
// in-memory queues until a flush hands them to the transport package.
// When a queue fills, items overflow into an attached store.Store
// keyed by a monotonic sequence number rather than being dropped;
// without a store, the oldest item is dropped instead. The package
// mirrors the teacher's cache.MemoryCache single-lock style
// (cache/memory.go), generalized to guard two collections instead of
// one map.
package buffer
