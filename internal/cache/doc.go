// Package cache memoizes expensive Oracle calls by a hash of their exact
// inputs.
//
// A [Cache] holds results in memory for the lifetime of a run and is safe for
// concurrent use. Concurrent callers asking for the same key share a single
// computation. Results may also be written through to a persistent [Store]
// (JSON files or SQLite). Persistence is best effort: a missing, unreadable
// or corrupt store behaves as an empty cache and never fails a call.
//
// Entries are never invalidated during a run. A store's TTL only applies when
// a later run reads the entry back.
package cache
