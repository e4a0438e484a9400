// Package column implements the on-disk stores of a segment.
//
// Every store is a column file: a sequence of compressed blocks holding
// length-prefixed records, an optional auxiliary section, a block index and
// a fixed-size footer.
//
//	[block 0] ... [block n-1] [aux] [index] [footer]
//
// Each block starts with a 13 byte header (codec, raw size, stored size,
// CRC32C of the stored bytes). The footer is 44 bytes and ends with its own
// CRC32C. Records are addressed by ordinal; per-document stores write exactly
// one record per document so the ordinal is the doc number.
//
// On top of the container sit the typed stores:
//
//   - IDs: front-coded sorted keys plus a roaring bitmap of deleted docs
//   - Numeric: doc -> zigzag varint int64 values
//   - Dict: sorted prefix/suffix-delta term list plus per-doc term postings
//   - Links: doc -> linked doc numbers in the target table
//
// Readers are not safe for concurrent use; open one per goroutine.
package column
