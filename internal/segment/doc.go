// Package segment builds and reads immutable segments.
//
// A segment holds a batch of objects for any number of tables. For every
// table it stores:
//
//   - an ID store: the sorted object keys with deleted and stub bitmaps
//   - one numeric store per numeric field (doc number → int64 values)
//   - one dictionary store per TEXT or BINARY field (sorted terms followed
//     by per-document term postings)
//   - one link store per LINK field (doc number → target doc numbers)
//
// Doc numbers are dense and follow key order. A meta.json record lists the
// tables and fields in index order together with row and value statistics.
//
// # Layout
//
//	meta.json
//	t<table>/ids
//	t<table>/f<field>.num | .dict | .link
package segment
