// Package pgstore is an embedded record store on top of a paged blob engine.
//
// A Base is a directory of named stores. Each store keeps its records in
// fixed-size pages managed by package pgblob, with small fields stored
// inline, large values moved out of line and an optional in-memory part.
//
// # Quick Start
//
//	b, _ := pgstore.Create("./data", []byte(`{
//		"name": "People",
//		"fields": [
//			{"name": "Name", "type": "string", "primary": true},
//			{"name": "Age", "type": "int"}
//		]
//	}`))
//	people, _ := b.Store("People")
//	id, _ := people.AddRec(record.Value{"Name": "Alice", "Age": 31})
//	age, _ := people.GetFieldInt(id, "Age")
//	_ = b.Close()
//
// Reopen an existing base with Open. A writable Base holds a lock on its
// directory; WithReadOnly opens a second, read-only view.
//
// # Durability
//
// Writes land in the page cache. Flush and Close write dirty pages and the
// store catalogs; PartialFlush writes as many dirty pages as a time window
// allows. Nothing written after the last Flush survives a crash.
//
// # Backups
//
// Backup copies a flushed base to any blobstore.BlobStore (local directory,
// S3, MinIO) and Restore brings it back:
//
//	s3Store, _ := s3.NewFromConfig(ctx, "my-bucket", "bases/people", "eu-west-1")
//	_, _ = b.Backup(ctx, s3Store, "2024-06-01")
//	_, _ = pgstore.Restore(ctx, s3Store, "", "./restored")
//
// # Observability
//
// WithLogger and WithMetricsCollector hook structured logging and counters
// into every store and its page cache.
package pgstore
