// Package dict provides append-only binary dictionaries.
//
// A [List] stores length-prefixed byte sequences back to back in one growable
// buffer and hands out dense, insertion-order indices. A [Set] adds a hash
// index on top of a List so that adding an equal byte sequence twice returns
// the index assigned the first time.
//
// Both types are single-writer structures scoped to one builder. Values
// returned by Get are borrowed views into the internal buffer: they are only
// valid until the next Add and must be copied if retained.
package dict
