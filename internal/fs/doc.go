// Package fs abstracts the local filesystem used by the local blob store.
//
// [LocalFS] forwards to the os package. [FaultyFS] wraps another FileSystem
// and injects write, sync, close and read failures per file name pattern so
// tests can exercise torn writes and objects vanishing underneath a reader.
//
// There is no context.Context here: local syscalls are not interruptible.
// Remote and cancellable IO lives behind blobstore.
package fs
