// Package s3 stores pgstore backups in Amazon S3.
//
// # Usage
//
//	store, err := s3.NewFromConfig(ctx, "my-bucket", "backups/", "us-east-1")
//	if err != nil {
//	    return err
//	}
//	err = base.Backup(ctx, store, "2024-06-01")
//
// Store uses ranged GETs for reads, multipart uploads with CRC32C checksums
// for Create, and If-None-Match preconditions for PutIfNotExists.
//
// CommitStore additionally keeps the LATEST pointer in DynamoDB so that
// concurrent writers publishing backups to the same prefix are serialized.
package s3
