// Package minio stores pgstore backups on MinIO or any other S3-compatible
// server (Ceph, Garage, SeaweedFS) through the MinIO client.
//
//	store, err := minio.Dial("localhost:9000", "minioadmin", "minioadmin", false, "backups", "pgstore/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = base.Backup(ctx, store, "nightly")
//
// Unlike the s3 package, Store does not implement blobstore.ConditionalStore,
// so backup manifests are written with a plain Put.
package minio
