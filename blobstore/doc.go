// Package blobstore abstracts the object stores that database backups are
// written to.
//
// BlobStore is the interface for reading and writing blobs. Implementations
// must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: a directory on the local file system
//   - MemoryStore: in-process map, for tests
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - s3.CommitStore: S3 plus a DynamoDB table holding the latest-backup pointer
//   - minio.Store: MinIO and other S3-compatible services
//
// Stores that can create a blob only if it is absent implement
// ConditionalStore; backups use it to never overwrite an existing backup.
package blobstore
