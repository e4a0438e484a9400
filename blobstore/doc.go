// Package blobstore is the directory abstraction segments are written to and read from.
//
// A segment is a set of immutable blobs under a common prefix. Blobs are
// written once through [BlobStore.Create] or [BlobStore.Put] and read with
// context-aware random access through [Blob.ReadAt].
//
// Implementations:
//
//   - [LocalStore]: files under a root directory, read through mmap
//   - [MemoryStore]: in-process maps, object-store semantics
//   - [CachingStore]: block cache in front of any other store (ristretto)
//   - blobstore/minio and blobstore/s3: object storage backends
//
// Missing blobs are reported with an error matching [ErrNotFound]. This holds
// for blobs deleted after they were opened too: object stores fail the next
// ranged read, and MemoryStore mirrors that. Callers that tolerate concurrent
// replacement of a blob test for it with errors.Is.
package blobstore
