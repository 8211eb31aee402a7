// Package record stores typed records on top of the paged blob engine.
//
// A Schema lists a store's fields. Each field lives either on disk, in a
// blob of the store's pgblob.Store, or in memory, in a per-record buffer
// that is snapshotted to disk on Flush. A record's disk and memory fields
// are serialized separately into a null bitmap, a fixed part and a variable
// part. Variable-length disk values larger than ToastThreshold are split
// into page-sized chunks ("toasted") so a record blob always fits a page.
//
// Files of store "People" in dir:
//
//	People.store   catalog: schema, id set, blob pointers, primary keys
//	People.mem     zstd-compressed snapshot of memory fields
//	People.main    blob engine catalog
//	People.bin000  blob engine segments
//
// Updates that only touch fixed-size fields are applied in place. Others
// re-serialize the record, which may move its blob to another page.
package record
