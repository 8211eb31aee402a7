package record

import (
	"fmt"

	"github.com/qminer/qminer-sub006/internal/binfmt"
	"github.com/qminer/qminer-sub006/pgblob"
)

// maxToastChunks is how many chunk pointers fit the list blob.
const maxToastChunks = (pgblob.MaxBlobLen - 8) / pgblob.PointerSize

// MaxToastLen is the largest value ToastVal accepts.
const MaxToastLen = maxToastChunks * pgblob.MaxBlobLen

// toaster splits a value into page-sized chunks and stores a list blob
// [TotalLen u32][Count u32][Pointer...] that points at them. It runs under
// the store lock.
type toaster struct{ s *Store }

func (t toaster) ToastVal(data []byte) (pgblob.Pointer, error) {
	if len(data) > MaxToastLen {
		return pgblob.Null, fmt.Errorf("%w: toast value of %d bytes exceeds %d", pgblob.ErrCapacityExceeded, len(data), MaxToastLen)
	}
	blobs := t.s.blobs
	chunks := make([]pgblob.Pointer, 0, (len(data)+pgblob.MaxBlobLen-1)/pgblob.MaxBlobLen)
	undo := func() {
		for _, ptr := range chunks {
			_ = blobs.Del(ptr)
		}
	}
	for off := 0; off < len(data); off += pgblob.MaxBlobLen {
		ptr, err := blobs.Put(data[off:min(off+pgblob.MaxBlobLen, len(data))])
		if err != nil {
			undo()
			return pgblob.Null, err
		}
		chunks = append(chunks, ptr)
	}
	e := binfmt.NewEncoder(make([]byte, 0, 8+len(chunks)*pgblob.PointerSize))
	e.Uint32(uint32(len(data)))
	e.Uint32(uint32(len(chunks)))
	for _, ptr := range chunks {
		raw, _ := ptr.MarshalBinary()
		e.Raw(raw)
	}
	head, err := blobs.Put(e.Bytes())
	if err != nil {
		undo()
		return pgblob.Null, err
	}
	return head, nil
}

func (t toaster) chunks(head pgblob.Pointer) (int, []pgblob.Pointer, error) {
	list, err := t.s.blobs.Get(head)
	if err != nil {
		return 0, nil, err
	}
	d := binfmt.NewDecoder(list)
	total := int(d.Uint32())
	n := int(d.Uint32())
	if d.Err() != nil || n*pgblob.PointerSize != d.Remaining() {
		return 0, nil, fmt.Errorf("%w: toast list at %s", ErrCorruptRecord, head)
	}
	ptrs := make([]pgblob.Pointer, n)
	for i := range ptrs {
		if err := ptrs[i].UnmarshalBinary(d.Raw(pgblob.PointerSize)); err != nil {
			return 0, nil, fmt.Errorf("%w: toast list at %s: %v", ErrCorruptRecord, head, err)
		}
	}
	return total, ptrs, nil
}

func (t toaster) UnToastVal(head pgblob.Pointer) ([]byte, error) {
	total, ptrs, err := t.chunks(head)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, total)
	for _, ptr := range ptrs {
		chunk, err := t.s.blobs.Get(ptr)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	if len(out) != total {
		return nil, fmt.Errorf("%w: toast value at %s is %d bytes, want %d", ErrCorruptRecord, head, len(out), total)
	}
	return out, nil
}

func (t toaster) DelToastVal(head pgblob.Pointer) error {
	_, ptrs, err := t.chunks(head)
	if err != nil {
		return err
	}
	for _, ptr := range ptrs {
		if err := t.s.blobs.Del(ptr); err != nil {
			return err
		}
	}
	return t.s.blobs.Del(head)
}

// dropToast deletes the toasted values of buf that keep does not list.
func (s *Store) dropToast(loc FieldLocation, buf []byte, keep []pgblob.Pointer) error {
	ptrs, err := s.ser[loc].ToastPointers(buf)
	if err != nil {
		return err
	}
	for _, ptr := range ptrs {
		kept := false
		for _, k := range keep {
			if k == ptr {
				kept = true
				break
			}
		}
		if kept {
			continue
		}
		if err := s.toast.DelToastVal(ptr); err != nil {
			return err
		}
	}
	return nil
}

// ToastVal stores data out of line and returns the pointer to its chunk
// list.
func (s *Store) ToastVal(data []byte) (pgblob.Pointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return pgblob.Null, err
	}
	return s.toast.ToastVal(data)
}

// UnToastVal reassembles a value stored by ToastVal.
func (s *Store) UnToastVal(ptr pgblob.Pointer) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(false); err != nil {
		return nil, err
	}
	return s.toast.UnToastVal(ptr)
}

// DelToastVal deletes a value stored by ToastVal.
func (s *Store) DelToastVal(ptr pgblob.Pointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	return s.toast.DelToastVal(ptr)
}
