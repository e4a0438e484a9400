// Package model defines core types used throughout segdb.
//
// # Identity Types
//
//   - Key: binary object identifier, ordered byte-wise lexicographically
//   - SegmentID: logical identifier of a segment (uint64)
//   - DocNum: dense, segment-local document number (uint32)
//
// # Ingestion
//
//   - Object: one row of input for a batch build
//
// Keys are opaque. Two keys are equal iff their bytes are equal; ordering is
// the ordering of bytes.Compare.
package model
