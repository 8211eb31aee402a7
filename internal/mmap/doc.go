// Package mmap allocates anonymous memory extents outside the Go heap.
//
// The page cache obtains its slot buffers in fixed-size extents:
//
//	ext, err := mmap.MapAnon(8 * page.Size)
//	if err != nil { ... }
//	defer ext.Close()
//
//	slot, _ := ext.Slice(3*page.Size, page.Size)
//
// On Unix the extent is an anonymous private mmap(2); on Windows it is a
// VirtualAlloc reservation. Close is idempotent, but callers must not touch
// slices obtained from an extent after closing it.
package mmap
