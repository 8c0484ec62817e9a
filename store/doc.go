// Package store provides the durable overflow capability the buffer
// package uses to survive restarts: a small key/value interface
// (Set/Get/Delete/Keys/GetSize) plus an in-memory reference
// implementation, grounded on the teacher's cache.Cache/MemoryCache
// (mutex-guarded map, lazy expiry on read).
//
// A nil Store is a supported mode: the buffer behaves purely
// in-memory when no durable store has been attached.
package store
