// Package backup copies the files of a database directory to a
// blobstore.BlobStore and back.
//
// A backup with id "nightly" is laid out as
//
//	nightly/People.store
//	nightly/People.main
//	nightly/People.bin000
//	nightly/MANIFEST
//	LATEST
//
// Every file is streamed through a block compressor (none, lz4 or zstd) and
// its CRC32C is computed over the uncompressed bytes. MANIFEST is a
// checksummed binary frame listing files, sizes and checksums. It is written
// after all files, so a backup without a MANIFEST is incomplete. LATEST is
// updated last and names the most recent complete backup.
//
// Restore verifies every checksum before renaming a file into place.
package backup
