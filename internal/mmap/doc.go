// Package mmap maps immutable segment files read-only into memory.
//
// Segment blobs are written once and never modified in place, so the local
// blob store maps them and serves ReadAt from the mapping. On platforms
// without mmap support the file is read into memory instead.
package mmap
