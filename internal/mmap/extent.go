package mmap

import (
	"sync/atomic"
)

// Extent is an anonymous read-write mapping outside the Go heap. The page
// cache carves its page slots out of extents.
type Extent struct {
	data   []byte
	closed atomic.Bool
	unmap  func([]byte) error
}

// MapAnon maps size bytes of zeroed anonymous memory.
func MapAnon(size int) (*Extent, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	data, unmap, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}
	return &Extent{data: data, unmap: unmap}, nil
}

// Size returns the mapped length.
func (e *Extent) Size() int { return len(e.data) }

// Bytes returns the whole mapping. The slice is invalid after Close.
func (e *Extent) Bytes() []byte {
	if e.closed.Load() {
		return nil
	}
	return e.data
}

// Slice returns data[off:off+n] with its capacity clipped to n.
func (e *Extent) Slice(off, n int) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if off < 0 || n < 0 || off+n > len(e.data) {
		return nil, ErrOutOfBounds
	}
	return e.data[off : off+n : off+n], nil
}

// Advise passes an access hint for the whole extent to the kernel.
func (e *Extent) Advise(pattern AccessPattern) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return osAdvise(e.data, pattern)
}

// Close unmaps the memory. It is idempotent.
func (e *Extent) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.unmap != nil && e.data != nil {
		return e.unmap(e.data)
	}
	return nil
}
