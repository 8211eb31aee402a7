package pgblob

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qminer/qminer-sub006/internal/fs"
	"github.com/qminer/qminer-sub006/internal/mmap"
	"github.com/qminer/qminer-sub006/internal/page"
)

const (
	// PageSize is the size of every page.
	PageSize = page.Size
	// MaxBlobLen is the largest blob a page can hold.
	MaxBlobLen = page.MaxItemLen

	mainMagic   uint32 = 0x4D424750 // "PGBM"
	mainVersion uint16 = 1
)

// Store persists blobs in pages of one or more segment files behind an LRU
// page cache. A mutex serializes every operation, so a page is never evicted
// while an operation is changing it.
type Store struct {
	mu   sync.Mutex
	base string
	opts options

	segs []*segment
	fsm  *FreeSpaceMap

	slots    []slot
	free     []int
	index    map[PagePointer]int
	head     int
	tail     int
	maxSlots int
	extents  []*mmap.Extent

	stats  counters
	closed bool
}

type counters struct {
	hits, misses, evictions, pagesWritten uint64
}

// MainName returns the name of the main file of base.
func MainName(base string) string { return base + ".main" }

// A relocating PutAt keeps the old page resident while it creates the new one.
const minCachePages = 2

func newStore(base string, opts []Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	maxSlots := int(o.cacheSize / PageSize)
	if maxSlots < minCachePages {
		return nil, newError(KindCapacityExceeded, "open", fmt.Errorf("cache size %d is smaller than %d pages", o.cacheSize, minCachePages))
	}
	return &Store{
		base:     base,
		opts:     o,
		fsm:      NewFreeSpaceMap(),
		index:    make(map[PagePointer]int),
		head:     noSlot,
		tail:     noSlot,
		maxSlots: maxSlots,
	}, nil
}

// Create starts an empty store at base, removing any files a previous store
// left there.
func Create(base string, opts ...Option) (*Store, error) {
	s, err := newStore(base, opts)
	if err != nil {
		return nil, err
	}
	if s.opts.readOnly {
		return nil, ErrReadOnly
	}
	if err := s.opts.fs.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return nil, ioError("create", err)
	}
	if err := s.removeFiles(); err != nil {
		return nil, err
	}
	if err := s.addSegment(); err != nil {
		return nil, err
	}
	if err := s.saveMain(); err != nil {
		_ = s.closeFiles()
		return nil, err
	}
	return s, nil
}

// Open opens the store at base.
func Open(base string, opts ...Option) (*Store, error) {
	s, err := newStore(base, opts)
	if err != nil {
		return nil, err
	}
	nsegs, err := s.loadMain()
	if err != nil {
		return nil, err
	}
	mode := ModeUpdate
	if s.opts.readOnly {
		mode = ModeReadOnly
	}
	for i := range nsegs {
		seg, err := openSegment(s.opts.fs, SegmentName(base, i), mode, s.opts.maxSegmentPages)
		if err != nil {
			_ = s.closeFiles()
			return nil, err
		}
		s.segs = append(s.segs, seg)
	}
	if len(s.segs) == 0 {
		return nil, corrupted("open", fmt.Errorf("%w: no segment files", ErrBadMain))
	}
	return s, nil
}

func (s *Store) removeFiles() error {
	names, err := s.opts.fs.Glob(s.base + ".bin*")
	if err != nil {
		return ioError("remove", err)
	}
	names = append(names, MainName(s.base))
	for _, name := range names {
		if err := s.opts.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return ioError("remove", err)
		}
	}
	return nil
}

// saveMain writes the segment count and free-space map.
//
//	u32 magic | u16 version | u16 reserved | u32 segments | fsm | u32 crc32
func (s *Store) saveMain() error {
	b := make([]byte, 0, 16+fsmEntrySize*s.fsm.Len())
	b = binary.LittleEndian.AppendUint32(b, mainMagic)
	b = binary.LittleEndian.AppendUint16(b, mainVersion)
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s.segs)))
	b, _ = s.fsm.AppendBinary(b)
	b = binary.LittleEndian.AppendUint32(b, crc32.ChecksumIEEE(b))
	if err := fs.WriteFileAtomic(s.opts.fs, MainName(s.base), b); err != nil {
		return ioError("save main", err)
	}
	return nil
}

func (s *Store) loadMain() (int, error) {
	b, err := fs.ReadFile(s.opts.fs, MainName(s.base))
	if err != nil {
		return 0, ioError("load main", err)
	}
	if len(b) < 16 {
		return 0, corrupted("load main", fmt.Errorf("%w: %d bytes", ErrBadMain, len(b)))
	}
	body, sum := b[:len(b)-4], binary.LittleEndian.Uint32(b[len(b)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return 0, corrupted("load main", fmt.Errorf("%w: checksum mismatch", ErrBadMain))
	}
	if m := binary.LittleEndian.Uint32(body); m != mainMagic {
		return 0, corrupted("load main", fmt.Errorf("%w: magic %#x", ErrBadMain, m))
	}
	if v := binary.LittleEndian.Uint16(body[4:]); v != mainVersion {
		return 0, corrupted("load main", fmt.Errorf("%w: version %d", ErrBadMain, v))
	}
	nsegs := int(binary.LittleEndian.Uint32(body[8:]))
	m, rest, err := decodeFreeSpaceMap(body[12:])
	if err != nil {
		return 0, corrupted("load main", err)
	}
	if len(rest) != 0 {
		return 0, corrupted("load main", fmt.Errorf("%w: %d trailing bytes", ErrBadMain, len(rest)))
	}
	s.fsm = m
	return nsegs, nil
}

func (s *Store) check(write bool) error {
	if s.closed {
		return ErrClosed
	}
	if write && s.opts.readOnly {
		return ErrReadOnly
	}
	return nil
}

// flushLocked writes every dirty page, the main file, and syncs segments.
func (s *Store) flushLocked() (int, error) {
	written := 0
	for i := s.tail; i != noSlot; i = s.slots[i].prev {
		if s.slots[i].buf.IsDirty() {
			if err := s.writePage(i); err != nil {
				return written, err
			}
			written++
		}
	}
	if err := s.saveMain(); err != nil {
		return written, err
	}
	var g errgroup.Group
	g.SetLimit(s.opts.rc.Workers())
	for _, seg := range s.segs {
		g.Go(seg.sync)
	}
	return written, g.Wait()
}

// Flush writes every dirty page and the main file, then syncs all segments.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	start := time.Now()
	n, err := s.flushLocked()
	s.opts.metrics.OnFlush(time.Since(start), n, err)
	s.opts.logger.Debug("flushed blob store", "base", s.base, "pages", n, "duration", time.Since(start))
	return err
}

// PartialFlush writes dirty pages, least recently used first, until window
// has elapsed. It returns the number of pages written.
func (s *Store) PartialFlush(window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return 0, err
	}
	start := time.Now()
	written := 0
	var err error
	for i := s.tail; i != noSlot; i = s.slots[i].prev {
		if !s.slots[i].buf.IsDirty() {
			continue
		}
		if err = s.writePage(i); err != nil {
			break
		}
		written++
		if time.Since(start) > window {
			break
		}
	}
	s.opts.metrics.OnFlush(time.Since(start), written, err)
	return written, err
}

// Close flushes a writable store and releases its files and cache memory.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var err error
	if !s.opts.readOnly {
		_, err = s.flushLocked()
	}
	s.closed = true
	return errors.Join(err, s.closeFiles(), s.releaseExtents())
}

func (s *Store) closeFiles() error {
	var errs []error
	for _, seg := range s.segs {
		errs = append(errs, seg.close())
	}
	s.segs = nil
	return errors.Join(errs...)
}

func (s *Store) releaseExtents() error {
	var errs []error
	for _, ext := range s.extents {
		s.opts.rc.ReleaseMemory(int64(ext.Size()))
		errs = append(errs, ext.Close())
	}
	s.extents = nil
	s.slots = nil
	s.free = nil
	clear(s.index)
	s.head, s.tail = noSlot, noSlot
	return errors.Join(errs...)
}

// Stats describes the cache and files of a Store.
type Stats struct {
	PageSize      int
	MaxPages      int
	LoadedPages   int
	DirtyPages    int
	PinnedPages   int
	LoadedExtents int
	CacheBytes    int64
	Segments      int
	TrackedPages  int
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	PagesWritten  uint64
}

// Stats returns a snapshot of cache counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		PageSize:      PageSize,
		MaxPages:      s.maxSlots,
		LoadedPages:   len(s.index),
		LoadedExtents: len(s.extents),
		Segments:      len(s.segs),
		TrackedPages:  s.fsm.Len(),
		Hits:          s.stats.hits,
		Misses:        s.stats.misses,
		Evictions:     s.stats.evictions,
		PagesWritten:  s.stats.pagesWritten,
	}
	for _, ext := range s.extents {
		st.CacheBytes += int64(ext.Size())
	}
	for _, i := range s.index {
		if s.slots[i].buf.IsDirty() {
			st.DirtyPages++
		}
		if s.slots[i].pins > 0 {
			st.PinnedPages++
		}
	}
	return st
}

// Base returns the path prefix of the store's files.
func (s *Store) Base() string { return s.base }

// Files returns the names of the main file and all segment files.
func (s *Store) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{MainName(s.base)}
	for _, seg := range s.segs {
		out = append(out, seg.name)
	}
	return out
}
