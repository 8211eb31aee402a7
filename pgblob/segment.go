package pgblob

import (
	"fmt"
	"os"

	"github.com/qminer/qminer-sub006/internal/fs"
)

// AccessMode selects how a segment file is opened.
type AccessMode uint8

const (
	// ModeReadOnly opens an existing file for reading.
	ModeReadOnly AccessMode = iota
	// ModeCreate creates or truncates the file.
	ModeCreate
	// ModeUpdate opens an existing file for reading and writing.
	ModeUpdate
)

func (m AccessMode) flags() int {
	switch m {
	case ModeCreate:
		return os.O_CREATE | os.O_TRUNC | os.O_RDWR
	case ModeUpdate:
		return os.O_RDWR
	default:
		return os.O_RDONLY
	}
}

// SegmentName returns the file name of segment i of base.
func SegmentName(base string, i int) string {
	return fmt.Sprintf("%s.bin%03d", base, i)
}

// segment is one file of fixed-size pages. Every call is a direct,
// unbuffered positional read or write; caching belongs to the Store.
type segment struct {
	name     string
	f        fs.File
	mode     AccessMode
	pages    uint32
	maxPages uint32
}

func openSegment(fsys fs.FileSystem, name string, mode AccessMode, maxPages uint32) (*segment, error) {
	f, err := fsys.OpenFile(name, mode.flags(), 0o644)
	if err != nil {
		return nil, ioError("open segment", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ioError("stat segment", err)
	}
	return &segment{
		name:     name,
		f:        f,
		mode:     mode,
		pages:    uint32(info.Size() / PageSize),
		maxPages: maxPages,
	}, nil
}

// loadPage reads page idx into buf.
func (s *segment) loadPage(idx uint32, buf []byte) error {
	n, err := s.f.ReadAt(buf[:PageSize], int64(idx)*PageSize)
	if n < PageSize {
		if err == nil {
			err = ErrShortRead
		}
		return ioError("load page", fmt.Errorf("%s page %d: read %d of %d bytes: %w: %w", s.name, idx, n, PageSize, ErrShortRead, err))
	}
	return nil
}

// savePage writes buf as page idx.
func (s *segment) savePage(idx uint32, buf []byte) error {
	if s.mode == ModeReadOnly {
		return ErrReadOnly
	}
	n, err := s.f.WriteAt(buf[:PageSize], int64(idx)*PageSize)
	if n < PageSize {
		if err == nil {
			err = ErrShortWrite
		}
		return ioError("save page", fmt.Errorf("%s page %d: wrote %d of %d bytes: %w: %w", s.name, idx, n, PageSize, ErrShortWrite, err))
	}
	return nil
}

// createNewPage appends a zeroed page and returns its index. It returns
// errSegmentFull once the file holds maxPages pages.
func (s *segment) createNewPage() (uint32, error) {
	if s.mode == ModeReadOnly {
		return 0, ErrReadOnly
	}
	if s.pages >= s.maxPages {
		return 0, errSegmentFull
	}
	var zero [PageSize]byte
	idx := s.pages
	if err := s.savePage(idx, zero[:]); err != nil {
		return 0, err
	}
	s.pages++
	return idx, nil
}

func (s *segment) sync() error {
	if s.mode == ModeReadOnly {
		return nil
	}
	if err := s.f.Sync(); err != nil {
		return ioError("sync segment", err)
	}
	return nil
}

func (s *segment) close() error {
	if err := s.f.Close(); err != nil {
		return ioError("close segment", err)
	}
	return nil
}
