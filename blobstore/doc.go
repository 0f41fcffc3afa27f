// Package blobstore provides the storage abstraction behind enrollments and
// the remote image source used by sync.
//
// A BlobStore maps slash-separated names to immutable byte blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local directory with atomic Put and flock-based Lock
//   - MemoryStore: in-memory, for tests
//   - s3.Store / s3.DDBCommitStore: Amazon S3, optionally with DynamoDB commits
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error   // Atomic replace
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Backends that can exclude writers in other processes also implement Locker.
package blobstore
