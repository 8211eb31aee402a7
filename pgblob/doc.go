// Package pgblob stores variable-length blobs in fixed-size pages.
//
// Pages live in segment files named <base>.bin000, <base>.bin001, and so on.
// A segment grows one page at a time until it reaches its page limit, after
// which a new segment is started. The companion <base>.main file records the
// number of segments and the free-space map.
//
// A [Pointer] (file, page, item) addresses one blob. Pages are read into an
// LRU cache whose slots are carved from anonymous memory extents; when the
// cache is full the least recently used page that is not pinned is evicted,
// and written back first if it is dirty. New blobs go to a recently used page
// with room, else to the page with the most free space according to the
// [FreeSpaceMap], else to a new page.
//
// A blob must fit in one page: Put rejects blobs longer than [MaxBlobLen]
// with an error of [KindCapacityExceeded]. Errors carry a [Kind]
// (capacity, I/O, corruption) and match ErrCapacityExceeded, ErrIO and
// ErrCorrupted with errors.Is.
//
//	s, err := pgblob.Create(filepath.Join(dir, "people"), pgblob.WithCacheSize(16<<20))
//	if err != nil { ... }
//	defer s.Close()
//
//	ptr, err := s.Put(data)
//	ptr, err = s.PutAt(newData, ptr) // may relocate
//	data, err = s.Get(ptr)
//
// All methods are safe for concurrent use; a single mutex serializes them.
package pgblob
