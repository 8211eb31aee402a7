package pgblob

import (
	"fmt"

	"github.com/qminer/qminer-sub006/internal/mmap"
	"github.com/qminer/qminer-sub006/internal/page"
)

func checkLen(op string, n int) error {
	switch {
	case n == 0:
		return newError(KindCapacityExceeded, op, ErrEmptyBlob)
	case n > MaxBlobLen:
		return newError(KindCapacityExceeded, op, fmt.Errorf("%w: %d > %d", ErrBlobTooLarge, n, MaxBlobLen))
	}
	return nil
}

// MaxBlobLen returns the largest blob Put accepts.
func (s *Store) MaxBlobLen() int { return MaxBlobLen }

// Put stores data on a page with enough free space and returns its pointer.
// Recently used resident pages are tried first, then the page with the most
// free space, then a new page.
func (s *Store) Put(data []byte) (Pointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return Null, err
	}
	if err := checkLen("put", len(data)); err != nil {
		return Null, err
	}
	return s.put(data)
}

func (s *Store) put(data []byte) (Pointer, error) {
	i, isNew, err := s.findPage(len(data))
	if err != nil {
		return Null, err
	}
	sl := &s.slots[i]
	idx, err := sl.buf.AddItem(data)
	if err != nil {
		return Null, pageError("put", err)
	}
	if isNew {
		s.fsm.AddPage(sl.page, sl.buf.Free())
	} else {
		s.fsm.UpdatePage(sl.page, sl.buf.Free())
	}
	return sl.page.Item(idx), nil
}

// PutAt replaces the blob at ptr with data and returns the pointer that now
// holds it. A blob of the same length is overwritten in place. A blob that
// fits the page after removing the old one keeps its pointer. Otherwise data
// moves to a new page and the old item is deleted. When no page can be
// created the old blob is left unchanged.
func (s *Store) PutAt(data []byte, ptr Pointer) (Pointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return Null, err
	}
	if err := checkLen("put", len(data)); err != nil {
		return Null, err
	}
	i, err := s.loadPage(ptr.PagePointer())
	if err != nil {
		return Null, err
	}
	pg := s.slots[i].buf
	_, n, err := pg.Item(ptr.Item)
	if err != nil {
		return Null, pageError("put", err)
	}
	if n == 0 {
		return Null, pageError("put", fmt.Errorf("%w: %s", page.ErrEmptyItem, ptr))
	}

	if n == len(data) {
		if err := pg.Overwrite(ptr.Item, data); err != nil {
			return Null, pageError("put", err)
		}
		return ptr, nil
	}

	if len(data) <= pg.Free()+n {
		if err := pg.DeleteItem(ptr.Item); err != nil {
			return Null, pageError("put", err)
		}
		if err := pg.ChangeItem(ptr.Item, data); err != nil {
			return Null, pageError("put", err)
		}
		s.fsm.UpdatePage(ptr.PagePointer(), pg.Free())
		return ptr, nil
	}

	// The old page stays resident while the new one is allocated, and the
	// old item is only removed once data has a new home.
	s.slots[i].pins++
	j, err := s.createPage()
	s.slots[i].pins--
	if err != nil {
		return Null, err
	}
	sl := &s.slots[j]
	idx, err := sl.buf.AddItem(data)
	if err != nil {
		return Null, pageError("put", err)
	}
	s.fsm.AddPage(sl.page, sl.buf.Free())
	if err := pg.DeleteItem(ptr.Item); err != nil {
		return Null, pageError("put", err)
	}
	s.afterDelete(i)
	return sl.page.Item(idx), nil
}

// Get returns a copy of the blob at ptr.
func (s *Store) Get(ptr Pointer) ([]byte, error) {
	var out []byte
	err := s.View(ptr, func(b []byte) error {
		out = append([]byte(nil), b...)
		return nil
	})
	return out, err
}

// View calls fn with the blob at ptr. The slice aliases the page buffer and
// is only valid during fn; fn must not call back into the Store.
func (s *Store) View(ptr Pointer, fn func([]byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return err
	}
	i, err := s.loadPage(ptr.PagePointer())
	if err != nil {
		return err
	}
	b, err := s.slots[i].buf.Bytes(ptr.Item)
	if err != nil {
		return pageError("get", fmt.Errorf("%s: %w", ptr, err))
	}
	return fn(b)
}

// Update calls fn with the writable bytes of the blob at ptr and marks the
// page dirty. fn may change bytes but not the length.
func (s *Store) Update(ptr Pointer, fn func([]byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	i, err := s.loadPage(ptr.PagePointer())
	if err != nil {
		return err
	}
	b, err := s.slots[i].buf.Bytes(ptr.Item)
	if err != nil {
		return pageError("update", fmt.Errorf("%s: %w", ptr, err))
	}
	if err := fn(b); err != nil {
		return err
	}
	s.slots[i].buf.SetDirty()
	return nil
}

// Del removes the blob at ptr. A page left without live items is reset.
func (s *Store) Del(ptr Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	i, err := s.loadPage(ptr.PagePointer())
	if err != nil {
		return err
	}
	if err := s.slots[i].buf.DeleteItem(ptr.Item); err != nil {
		return pageError("del", err)
	}
	s.afterDelete(i)
	return nil
}

// SetDirty marks the page holding ptr for write-back.
func (s *Store) SetDirty(ptr Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	i, err := s.loadPage(ptr.PagePointer())
	if err != nil {
		return err
	}
	s.slots[i].buf.SetDirty()
	return nil
}

// Pin keeps the page holding ptr resident until a matching Unpin.
func (s *Store) Pin(ptr Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return err
	}
	i, err := s.loadPage(ptr.PagePointer())
	if err != nil {
		return err
	}
	s.slots[i].pins++
	s.slots[i].buf.SetFlag(page.FlagSharedLock)
	return nil
}

// Unpin releases one Pin of the page holding ptr.
func (s *Store) Unpin(ptr Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[ptr.PagePointer()]
	if !ok || s.slots[i].pins == 0 {
		return fmt.Errorf("%w: %s", ErrNotPinned, ptr.PagePointer())
	}
	s.slots[i].pins--
	if s.slots[i].pins == 0 {
		s.slots[i].buf.ClearFlag(page.FlagSharedLock)
	}
	return nil
}

// LoadAll reads every known page into the cache, evicting as needed.
func (s *Store) LoadAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(false); err != nil {
		return err
	}
	for _, pp := range s.fsm.Pages() {
		if _, err := s.loadPage(pp); err != nil {
			return err
		}
	}
	return nil
}

// Clr discards every blob: cached pages are dropped without write-back and
// all segment files are replaced by one empty segment.
func (s *Store) Clr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	for i := range s.slots {
		if s.slots[i].resident {
			s.lruUnlink(i)
			s.releaseSlot(i)
		}
	}
	clear(s.index)
	s.head, s.tail = noSlot, noSlot
	for _, ext := range s.extents {
		_ = ext.Advise(mmap.AccessDontNeed)
	}
	s.fsm.Clear()
	if err := s.closeFiles(); err != nil {
		return err
	}
	if err := s.removeFiles(); err != nil {
		return err
	}
	if err := s.addSegment(); err != nil {
		return err
	}
	return s.saveMain()
}
