// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: an open file with read/write/sync capabilities
//   - [FileSystem]: filesystem operations (open, remove, rename, etc.)
//
// # Implementations
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: test utility that injects write, sync, close and rename errors
//
// # Atomic writes
//
// [WriteFileAtomic] writes to a temporary sibling, fsyncs it, renames it over
// the destination and fsyncs the parent directory. Readers observe either the
// previous content or the new content, never a torn file.
//
// # Locking
//
// [Lock] takes an exclusive advisory lock on a lock file. On Unix this is
// flock(2), which serializes writers across processes sharing a directory.
// Elsewhere it degrades to an in-process lock.
//
// This package intentionally does NOT include context.Context parameters on
// file operations. Local I/O is not interruptible at the syscall level. Only
// [Lock], which may wait on another process, takes a context.
package fs
