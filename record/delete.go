package record

import (
	"errors"
	"fmt"
	"iter"
)

func (s *Store) firstRecID() uint64 {
	if s.ids.IsEmpty() {
		return NoRecID
	}
	return s.ids.Minimum()
}

func (s *Store) lastRecID() uint64 {
	if s.ids.IsEmpty() {
		return NoRecID
	}
	return s.ids.Maximum()
}

// Recs returns the number of records.
func (s *Store) Recs() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids.GetCardinality()
}

// FirstRecID returns the smallest record id, or NoRecID when empty.
func (s *Store) FirstRecID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstRecID()
}

// LastRecID returns the largest record id, or NoRecID when empty.
func (s *Store) LastRecID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRecID()
}

// Iter yields record ids in ascending order. It iterates over a snapshot
// taken when called.
func (s *Store) Iter() iter.Seq[uint64] {
	s.mu.RLock()
	ids := s.ids.Clone()
	s.mu.RUnlock()
	return func(yield func(uint64) bool) {
		it := ids.Iterator()
		for it.HasNext() {
			if !yield(it.Next()) {
				return
			}
		}
	}
}

// deleteRec changes the id set, primary-key map and memory part only after
// the record blob is deleted. A failed read or delete leaves the record intact.
func (s *Store) deleteRec(id uint64) error {
	var key any
	pf, hasKey := s.schema.Primary()
	if hasKey {
		var err error
		if key, err = s.fieldValue(id, pf); err != nil {
			return err
		}
	}
	var rec Value
	indexing := s.indexing()
	if indexing {
		var err error
		if rec, err = s.getRec(id); err != nil {
			return err
		}
	}
	ptr, onDisk := s.ptrs[id]
	var buf []byte
	if onDisk {
		var err error
		if buf, err = s.blobs.Get(ptr); err != nil {
			return err
		}
	}

	if indexing {
		if err := s.opts.indexer.Delete(id, rec); err != nil {
			return fmt.Errorf("deindex record %d: %w", id, err)
		}
	}
	if onDisk {
		if err := s.blobs.Del(ptr); err != nil {
			if indexing {
				if ierr := s.opts.indexer.Index(id, rec); ierr != nil {
					err = errors.Join(err, fmt.Errorf("reindex record %d: %w", id, ierr))
				}
			}
			return err
		}
		delete(s.ptrs, id)
	}
	if mem, ok := s.mem[id]; ok {
		s.memBytes -= int64(len(mem))
		delete(s.mem, id)
	}
	if hasKey {
		s.pk.del(key)
	}
	s.ids.Remove(id)
	s.opts.trigger.OnDelete(id)

	if onDisk {
		if err := s.dropToast(Disk, buf, nil); err != nil {
			s.logger.Warn("leaked toasted values", "record", id, "error", err)
		}
	}
	return nil
}

func (s *Store) deleteRecs(ids []uint64) error {
	for _, id := range ids {
		if !s.ids.Contains(id) {
			return fmt.Errorf("%w: %d", ErrUnknownRecord, id)
		}
	}
	for _, id := range ids {
		if err := s.deleteRec(id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRecs deletes the given records in order. Nothing is deleted if any id
// is unknown. When a delete fails, the records before it stay deleted and the
// failing record and those after it are left intact.
func (s *Store) DeleteRecs(ids []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	return s.deleteRecs(ids)
}

// DeleteFirstNRecs deletes the n records with the smallest ids.
func (s *Store) DeleteFirstNRecs(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	return s.deleteFirstN(n)
}

func (s *Store) deleteFirstN(n int) error {
	if n <= 0 {
		return nil
	}
	ids := make([]uint64, 0, min(uint64(n), s.ids.GetCardinality()))
	it := s.ids.Iterator()
	for it.HasNext() && len(ids) < n {
		ids = append(ids, it.Next())
	}
	return s.deleteRecs(ids)
}

// DeleteAllRecs deletes every record and truncates the blob files. Record
// ids keep increasing.
func (s *Store) DeleteAllRecs() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	if s.ids.IsEmpty() {
		return nil
	}
	s.logger.Info("deleting all records", "records", s.ids.GetCardinality())
	indexing := s.indexing()
	var errs []error
	it := s.ids.Iterator()
	for it.HasNext() {
		id := it.Next()
		s.opts.trigger.OnDelete(id)
		if !indexing {
			continue
		}
		rec, err := s.getRec(id)
		if err == nil {
			err = s.opts.indexer.Delete(id, rec)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("deindex record %d: %w", id, err))
		}
	}
	if s.pk != nil {
		s.pk.clear()
	}
	s.ids.Clear()
	clear(s.ptrs)
	clear(s.mem)
	s.memBytes = 0
	if err := s.blobs.Clr(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GarbageCollect deletes the records that fell out of the store window and
// returns how many were deleted. Time windows assume records are added in
// time order: trimming stops at the first record inside the window.
func (s *Store) GarbageCollect() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return 0, err
	}
	if s.ids.IsEmpty() {
		return 0, nil
	}
	w := s.schema.Window
	var n int
	switch w.Type {
	case WindowLength:
		if recs := s.ids.GetCardinality(); recs > w.Size {
			n = int(recs - w.Size)
			if err := s.deleteFirstN(n); err != nil {
				return 0, err
			}
		}
	case WindowTime:
		f, _ := s.schema.Field(w.TimeField)
		last, err := s.fieldValue(s.ids.Maximum(), f)
		if err != nil || last == nil {
			return 0, err
		}
		threshold := last.(int64) - int64(w.Size)
		var ids []uint64
		it := s.ids.Iterator()
		for it.HasNext() {
			id := it.Next()
			tm, err := s.fieldValue(id, f)
			if err != nil {
				return 0, err
			}
			if tm != nil && tm.(int64) >= threshold {
				break
			}
			ids = append(ids, id)
		}
		if err := s.deleteRecs(ids); err != nil {
			return 0, err
		}
		n = len(ids)
	}
	if n > 0 {
		s.logger.Debug("garbage collected records", "deleted", n)
	}
	return n, nil
}
