package mmap

import "errors"

// AccessPattern is a hint about how mapped memory will be used.
type AccessPattern int

const (
	// AccessDefault gives no specific advice.
	AccessDefault AccessPattern = iota
	// AccessRandom expects random access.
	AccessRandom
	// AccessWillNeed expects access in the near future.
	AccessWillNeed
	// AccessDontNeed lets the kernel reclaim the pages; contents become zero.
	AccessDontNeed
)

var (
	// ErrClosed is returned when using an unmapped extent.
	ErrClosed = errors.New("mmap: extent is closed")
	// ErrInvalidSize is returned for a non-positive extent size.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrOutOfBounds is returned for a slice outside the extent.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
)
