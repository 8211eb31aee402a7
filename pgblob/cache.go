package pgblob

import (
	"context"
	"errors"
	"fmt"

	"github.com/qminer/qminer-sub006/internal/mmap"
	"github.com/qminer/qminer-sub006/internal/page"
	"github.com/qminer/qminer-sub006/internal/resource"
)

const noSlot = -1

// slot is one page-sized cache buffer. Slots are linked into the LRU list
// by index; head is the most recently used slot.
type slot struct {
	page       PagePointer
	buf        page.Page
	prev, next int
	pins       int
	resident   bool
}

func (s *Store) lruUnlink(i int) {
	sl := &s.slots[i]
	if sl.prev != noSlot {
		s.slots[sl.prev].next = sl.next
	} else {
		s.head = sl.next
	}
	if sl.next != noSlot {
		s.slots[sl.next].prev = sl.prev
	} else {
		s.tail = sl.prev
	}
	sl.prev, sl.next = noSlot, noSlot
}

func (s *Store) lruPushFront(i int) {
	sl := &s.slots[i]
	sl.prev, sl.next = noSlot, s.head
	if s.head != noSlot {
		s.slots[s.head].prev = i
	}
	s.head = i
	if s.tail == noSlot {
		s.tail = i
	}
}

func (s *Store) lruPushBack(i int) {
	sl := &s.slots[i]
	sl.prev, sl.next = s.tail, noSlot
	if s.tail != noSlot {
		s.slots[s.tail].next = i
	}
	s.tail = i
	if s.head == noSlot {
		s.head = i
	}
}

func (s *Store) touch(i int) {
	if s.head == i {
		return
	}
	s.lruUnlink(i)
	s.lruPushFront(i)
}

// growExtent maps another extent of slots. It reports false when the cache
// is at its page limit or the memory budget is spent.
func (s *Store) growExtent() (bool, error) {
	n := min(ExtentPages, s.maxSlots-len(s.slots))
	if n <= 0 {
		return false, nil
	}
	size := int64(n) * PageSize
	if err := s.opts.rc.AcquireMemory(size); err != nil {
		if errors.Is(err, resource.ErrMemoryLimitExceeded) && len(s.slots) > 0 {
			return false, nil
		}
		return false, newError(KindCapacityExceeded, "grow cache", err)
	}
	ext, err := mmap.MapAnon(int(size))
	if err != nil {
		s.opts.rc.ReleaseMemory(size)
		return false, ioError("grow cache", err)
	}
	s.extents = append(s.extents, ext)
	for k := range n {
		buf, _ := ext.Slice(k*PageSize, PageSize)
		s.slots = append(s.slots, slot{buf: page.Page(buf), prev: noSlot, next: noSlot})
		s.free = append(s.free, len(s.slots)-1)
	}
	return true, nil
}

// allocSlot returns an unused slot, growing the cache or evicting the least
// recently used evictable page when needed.
func (s *Store) allocSlot() (int, error) {
	if len(s.free) == 0 {
		grown, err := s.growExtent()
		if err != nil {
			return noSlot, err
		}
		if !grown {
			return s.evict()
		}
	}
	i := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	return i, nil
}

func (s *Store) releaseSlot(i int) {
	s.slots[i].resident = false
	s.slots[i].pins = 0
	s.free = append(s.free, i)
}

func (s *Store) canEvict(i int) bool {
	return s.slots[i].pins == 0 && !s.slots[i].buf.IsLocked()
}

// evict frees the least recently used evictable slot, writing its page back
// first when dirty.
func (s *Store) evict() (int, error) {
	for i := s.tail; i != noSlot; i = s.slots[i].prev {
		if !s.canEvict(i) {
			continue
		}
		sl := &s.slots[i]
		dirty := sl.buf.IsDirty()
		if dirty {
			if err := s.writePage(i); err != nil {
				return noSlot, err
			}
			s.opts.logger.Debug("evicted dirty page", "page", sl.page.String())
		}
		s.lruUnlink(i)
		delete(s.index, sl.page)
		sl.resident = false
		s.stats.evictions++
		s.opts.metrics.OnPageEvict(dirty)
		return i, nil
	}
	return noSlot, corrupted("evict", fmt.Errorf("%w: %d pages resident", ErrAllPinned, len(s.index)))
}

// writePage saves slot i to its segment and clears the dirty flag.
func (s *Store) writePage(i int) error {
	sl := &s.slots[i]
	seg, err := s.segment(sl.page.File)
	if err != nil {
		return err
	}
	if err := s.opts.rc.AcquireIO(context.Background(), PageSize); err != nil {
		return ioError("save page", err)
	}
	sl.buf.ClearDirty()
	if err := seg.savePage(sl.page.Page, sl.buf); err != nil {
		sl.buf.SetDirty()
		return err
	}
	s.stats.pagesWritten++
	s.opts.metrics.OnThroughput("write", PageSize)
	return nil
}

func (s *Store) segment(file int16) (*segment, error) {
	if file < 0 || int(file) >= len(s.segs) {
		return nil, corrupted("segment", fmt.Errorf("%w: %d of %d", ErrUnknownFile, file, len(s.segs)))
	}
	return s.segs[file], nil
}

// loadPage makes pp resident, moves it to the front of the LRU list and
// returns its slot.
func (s *Store) loadPage(pp PagePointer) (int, error) {
	if i, ok := s.index[pp]; ok {
		s.stats.hits++
		s.touch(i)
		return i, nil
	}
	s.stats.misses++
	seg, err := s.segment(pp.File)
	if err != nil {
		return noSlot, err
	}
	i, err := s.allocSlot()
	if err != nil {
		return noSlot, err
	}
	sl := &s.slots[i]
	if err := seg.loadPage(pp.Page, sl.buf); err != nil {
		s.releaseSlot(i)
		return noSlot, err
	}
	if err := sl.buf.Validate(); err != nil {
		s.releaseSlot(i)
		return noSlot, corrupted("load page", fmt.Errorf("page %s: %w", pp, err))
	}
	sl.buf.ClearFlag(page.FlagDirty | page.FlagSharedLock | page.FlagExclusiveLock)
	s.register(i, pp)
	s.opts.metrics.OnPageLoad()
	s.opts.metrics.OnThroughput("read", PageSize)
	return i, nil
}

func (s *Store) register(i int, pp PagePointer) {
	sl := &s.slots[i]
	sl.page = pp
	sl.resident = true
	sl.pins = 0
	s.index[pp] = i
	s.lruPushFront(i)
}

// createPage appends an initialized page to the last segment, starting a new
// segment when the last one is full.
func (s *Store) createPage() (int, error) {
	i, err := s.allocSlot()
	if err != nil {
		return noSlot, err
	}
	file := len(s.segs) - 1
	idx, err := s.segs[file].createNewPage()
	if errors.Is(err, errSegmentFull) {
		if err = s.addSegment(); err == nil {
			file = len(s.segs) - 1
			idx, err = s.segs[file].createNewPage()
		}
	}
	if err != nil {
		s.releaseSlot(i)
		return noSlot, err
	}
	page.Init(s.slots[i].buf)
	s.register(i, PagePointer{File: int16(file), Page: idx})
	return i, nil
}

func (s *Store) addSegment() error {
	name := SegmentName(s.base, len(s.segs))
	seg, err := openSegment(s.opts.fs, name, ModeCreate, s.opts.maxSegmentPages)
	if err != nil {
		return err
	}
	s.segs = append(s.segs, seg)
	s.opts.logger.Info("created segment file", "file", name, "segments", len(s.segs))
	return nil
}

// findPage returns a resident or known page with room for n more payload
// bytes, or creates one. isNew reports a freshly created page.
func (s *Store) findPage(n int) (i int, isNew bool, err error) {
	k := 0
	for j := s.head; j != noSlot && k < s.opts.residentScan; j = s.slots[j].next {
		if s.slots[j].buf.CanStore(n) {
			s.touch(j)
			return j, false, nil
		}
		k++
	}
	if pp, ok := s.fsm.GetFreePage(n + page.EntrySize); ok {
		i, err := s.loadPage(pp)
		if err != nil {
			return noSlot, false, err
		}
		if s.slots[i].buf.CanStore(n) {
			return i, false, nil
		}
		s.fsm.UpdatePage(pp, s.slots[i].buf.Free())
	}
	i, err = s.createPage()
	if err != nil {
		return noSlot, false, err
	}
	return i, true, nil
}

// afterDelete resets a page without live items and moves it to the LRU
// tail so it is written back and evicted first.
func (s *Store) afterDelete(i int) {
	sl := &s.slots[i]
	if sl.buf.LiveItems() == 0 {
		sl.buf.Reset()
		s.lruUnlink(i)
		s.lruPushBack(i)
	}
	s.fsm.UpdatePage(sl.page, sl.buf.Free())
}
