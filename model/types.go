package model

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// SegmentID is the logical identifier of a segment.
// It is stable across rewrites of the same segment.
type SegmentID uint64

// String returns a string representation of the SegmentID.
func (id SegmentID) String() string {
	return fmt.Sprintf("seg-%06d", uint64(id))
}

// DocNum is a dense, segment-local document number.
// Doc numbers are assigned in ascending key order when a table is flushed,
// so ascending DocNum within a segment means ascending Key.
type DocNum uint32

// NoDoc is the terminal sentinel returned by exhausted cursors.
const NoDoc = ^DocNum(0)

// Key is a binary object identifier.
type Key []byte

// Compare compares two keys byte-wise lexicographically.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k, other)
}

// Equal reports whether two keys hold the same bytes.
func (k Key) Equal(other Key) bool {
	return bytes.Equal(k, other)
}

// Clone returns an owned copy of k.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	c := make(Key, len(k))
	copy(c, k)
	return c
}

// String renders printable keys as-is and binary keys as hex.
func (k Key) String() string {
	for _, c := range k {
		if c < 0x20 || c > 0x7e {
			return "0x" + hex.EncodeToString(k)
		}
	}
	return string(k)
}

// Object is one row of ingestion input.
// Key is optional; when nil the builder generates one. Fields maps field name
// to one or more raw string values (fields may be multi-valued).
type Object struct {
	Table   string
	Key     Key
	Deleted bool
	Fields  map[string][]string
}
