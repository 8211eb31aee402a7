package pgblob

import (
	"errors"
	"fmt"

	"github.com/qminer/qminer-sub006/internal/page"
)

// Kind classifies storage errors.
type Kind uint8

const (
	// KindCapacityExceeded: a blob and its directory entry do not fit a page.
	KindCapacityExceeded Kind = iota + 1
	// KindIO: a short read or write, or a failed open, sync or close.
	KindIO
	// KindCorrupted: on-disk data or an internal invariant is broken.
	KindCorrupted
)

func (k Kind) String() string {
	switch k {
	case KindCapacityExceeded:
		return "capacity exceeded"
	case KindIO:
		return "io error"
	case KindCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

var (
	// ErrCapacityExceeded matches every error of KindCapacityExceeded.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrIO matches every error of KindIO.
	ErrIO = errors.New("io error")
	// ErrCorrupted matches every error of KindCorrupted.
	ErrCorrupted = errors.New("corrupted")

	// ErrBlobTooLarge is returned for blobs longer than MaxBlobLen.
	ErrBlobTooLarge = errors.New("blob too large")
	// ErrEmptyBlob is returned when storing a zero-length blob.
	ErrEmptyBlob = errors.New("blob is empty")
	// ErrShortRead is returned when a page read returns fewer bytes than a page.
	ErrShortRead = errors.New("short page read")
	// ErrShortWrite is returned when a page write stores fewer bytes than a page.
	ErrShortWrite = errors.New("short page write")
	// ErrAllPinned is returned when the cache is full of pinned pages.
	ErrAllPinned = errors.New("no evictable page")
	// ErrStalePointer is returned for a pointer to a deleted or missing item.
	ErrStalePointer = errors.New("stale pointer")
	// ErrUnknownFile is returned for a pointer into a segment that does not exist.
	ErrUnknownFile = errors.New("unknown segment file")
	// ErrBadMain is returned when the .main file fails validation.
	ErrBadMain = errors.New("invalid main file")

	// ErrReadOnly is returned for writes to a read-only store.
	ErrReadOnly = errors.New("pgblob: store is read-only")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pgblob: store is closed")
	// ErrNotPinned is returned by Unpin for a page that is not pinned.
	ErrNotPinned = errors.New("pgblob: page is not pinned")

	// errSegmentFull signals that the last segment cannot grow.
	errSegmentFull = errors.New("segment file is full")
)

// Error is a classified storage error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pgblob: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrCapacityExceeded:
		return e.Kind == KindCapacityExceeded
	case ErrIO:
		return e.Kind == KindIO
	case ErrCorrupted:
		return e.Kind == KindCorrupted
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind Kind, op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func ioError(op string, err error) error { return newError(KindIO, op, err) }

func corrupted(op string, err error) error { return newError(KindCorrupted, op, err) }

// pageError classifies errors from the page layout.
func pageError(op string, err error) error {
	switch {
	case errors.Is(err, page.ErrNoSpace):
		return newError(KindCapacityExceeded, op, err)
	case errors.Is(err, page.ErrItemRange), errors.Is(err, page.ErrEmptyItem):
		return corrupted(op, fmt.Errorf("%w: %w", ErrStalePointer, err))
	default:
		return corrupted(op, err)
	}
}
