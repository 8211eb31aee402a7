// Package page implements the slotted layout of a single fixed-size page.
//
// Layout (little-endian):
//
//	0   u16 page size
//	2   u8  version
//	3   u8  flags (bit0 dirty, bit1 shared lock, bit2 exclusive lock)
//	4   u16 offset of free space start
//	6   u16 offset of free space end
//	8   u16 item count
//	10  item directory, one {u16 offset, u16 length} entry per item
//	    ... free space ...
//	    item payloads, packed backward from the end of the page
//
// The directory grows forward from the header and payloads grow backward
// from the end, so free space is always the gap between the two.
package page

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Size is the fixed size of every page.
	Size = 8192
	// HeaderSize is the size of the page header.
	HeaderSize = 10
	// EntrySize is the size of one item directory entry.
	EntrySize = 4
	// MaxItemLen is the largest payload a single empty page can hold.
	MaxItemLen = Size - HeaderSize - EntrySize

	// Version is written into every freshly initialized page.
	Version = 1
)

// Flag bits stored at offset 3.
const (
	FlagDirty uint8 = 1 << iota
	FlagSharedLock
	FlagExclusiveLock
)

const (
	offPageSize  = 0
	offVersion   = 2
	offFlags     = 3
	offFreeStart = 4
	offFreeEnd   = 6
	offItemCount = 8
)

var (
	// ErrNoSpace is returned when an item and its directory entry do not fit.
	ErrNoSpace = errors.New("page: not enough free space")
	// ErrItemRange is returned for an item index outside the directory.
	ErrItemRange = errors.New("page: item index out of range")
	// ErrEmptyItem is returned when reading a reserved-but-empty item.
	ErrEmptyItem = errors.New("page: item is empty")
	// ErrNotEmpty is returned when changing an item that still holds data.
	ErrNotEmpty = errors.New("page: item is not empty")
	// ErrCorrupt is returned when header or directory bounds are violated.
	ErrCorrupt = errors.New("page: corrupt layout")
)

// Page is a typed view over a page buffer. Every accessor validates offsets
// against the header before touching payload bytes.
type Page []byte

// Init formats p as an empty page and marks it dirty.
func Init(p []byte) Page {
	pg := Page(p[:Size])
	clear(pg)
	pg.putU16(offPageSize, Size)
	pg[offVersion] = Version
	pg[offFlags] = FlagDirty
	pg.putU16(offFreeStart, HeaderSize)
	pg.putU16(offFreeEnd, Size)
	pg.putU16(offItemCount, 0)
	return pg
}

func (p Page) u16(off int) uint16       { return binary.LittleEndian.Uint16(p[off:]) }
func (p Page) putU16(off int, v uint16) { binary.LittleEndian.PutUint16(p[off:], v) }
func (p Page) entryOff(idx uint16) int  { return HeaderSize + int(idx)*EntrySize }
func (p Page) setFreeStart(v int)       { p.putU16(offFreeStart, uint16(v)) }
func (p Page) setFreeEnd(v int)         { p.putU16(offFreeEnd, uint16(v)) }
func (p Page) setItemCount(v int)       { p.putU16(offItemCount, uint16(v)) }
func (p Page) setEntry(idx uint16, off, n int) {
	e := p.entryOff(idx)
	p.putU16(e, uint16(off))
	p.putU16(e+2, uint16(n))
}

// PageSize returns the size recorded in the header.
func (p Page) PageSize() int { return int(p.u16(offPageSize)) }

// Version returns the layout version.
func (p Page) Version() uint8 { return p[offVersion] }

// Flags returns the raw flag byte.
func (p Page) Flags() uint8 { return p[offFlags] }

// FreeStart returns the offset of the first free byte after the directory.
func (p Page) FreeStart() int { return int(p.u16(offFreeStart)) }

// FreeEnd returns the offset of the first payload byte.
func (p Page) FreeEnd() int { return int(p.u16(offFreeEnd)) }

// ItemCount returns the number of directory entries, empty ones included.
func (p Page) ItemCount() int { return int(p.u16(offItemCount)) }

// Free returns the number of unused bytes between directory and payloads.
func (p Page) Free() int { return p.FreeEnd() - p.FreeStart() }

// CanStore reports whether a new item of n bytes plus its entry fits.
func (p Page) CanStore(n int) bool { return n+EntrySize <= p.Free() }

// IsDirty reports whether the dirty flag is set.
func (p Page) IsDirty() bool { return p[offFlags]&FlagDirty != 0 }

// SetDirty sets the dirty flag.
func (p Page) SetDirty() { p[offFlags] |= FlagDirty }

// ClearDirty clears the dirty flag.
func (p Page) ClearDirty() { p[offFlags] &^= FlagDirty }

// IsLocked reports whether either lock flag is set.
func (p Page) IsLocked() bool { return p[offFlags]&(FlagSharedLock|FlagExclusiveLock) != 0 }

// SetFlag sets the given flag bits.
func (p Page) SetFlag(f uint8) { p[offFlags] |= f }

// ClearFlag clears the given flag bits.
func (p Page) ClearFlag(f uint8) { p[offFlags] &^= f }

// Validate checks the header invariants of a page read from storage.
func (p Page) Validate() error {
	if len(p) < Size {
		return fmt.Errorf("%w: buffer is %d bytes", ErrCorrupt, len(p))
	}
	if p.PageSize() != Size {
		return fmt.Errorf("%w: page size %d", ErrCorrupt, p.PageSize())
	}
	start, end, n := p.FreeStart(), p.FreeEnd(), p.ItemCount()
	if start != HeaderSize+n*EntrySize {
		return fmt.Errorf("%w: free start %d for %d items", ErrCorrupt, start, n)
	}
	if start > end || end > Size {
		return fmt.Errorf("%w: free region [%d,%d)", ErrCorrupt, start, end)
	}
	return nil
}

// Item returns the directory entry for idx.
func (p Page) Item(idx uint16) (off, n int, err error) {
	if int(idx) >= p.ItemCount() {
		return 0, 0, fmt.Errorf("%w: %d of %d", ErrItemRange, idx, p.ItemCount())
	}
	e := p.entryOff(idx)
	off, n = int(p.u16(e)), int(p.u16(e+2))
	if n > 0 && (off < p.FreeEnd() || off+n > Size) {
		return 0, 0, fmt.Errorf("%w: item %d at [%d,%d)", ErrCorrupt, idx, off, off+n)
	}
	return off, n, nil
}

// Bytes returns the payload of item idx as a view into the page.
func (p Page) Bytes(idx uint16) ([]byte, error) {
	off, n, err := p.Item(idx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %d", ErrEmptyItem, idx)
	}
	return p[off : off+n : off+n], nil
}

// AddItem appends a directory entry and stores buf in front of the current
// payloads. It returns the new item index.
func (p Page) AddItem(buf []byte) (uint16, error) {
	if !p.CanStore(len(buf)) {
		return 0, fmt.Errorf("%w: need %d+%d, have %d", ErrNoSpace, len(buf), EntrySize, p.Free())
	}
	idx := uint16(p.ItemCount())
	end := p.FreeEnd() - len(buf)
	copy(p[end:], buf)
	p.setEntry(idx, end, len(buf))
	p.setFreeEnd(end)
	p.setFreeStart(p.FreeStart() + EntrySize)
	p.setItemCount(int(idx) + 1)
	p.SetDirty()
	return idx, nil
}

// ChangeItem stores buf into an existing empty entry.
func (p Page) ChangeItem(idx uint16, buf []byte) error {
	_, n, err := p.Item(idx)
	if err != nil {
		return err
	}
	if n != 0 {
		return fmt.Errorf("%w: %d holds %d bytes", ErrNotEmpty, idx, n)
	}
	if len(buf) > p.Free() {
		return fmt.Errorf("%w: need %d, have %d", ErrNoSpace, len(buf), p.Free())
	}
	end := p.FreeEnd() - len(buf)
	copy(p[end:], buf)
	p.setEntry(idx, end, len(buf))
	p.setFreeEnd(end)
	p.SetDirty()
	return nil
}

// Overwrite replaces the payload of idx with buf of identical length.
func (p Page) Overwrite(idx uint16, buf []byte) error {
	dst, err := p.Bytes(idx)
	if err != nil {
		return err
	}
	if len(dst) != len(buf) {
		return fmt.Errorf("page: overwrite of %d bytes with %d", len(dst), len(buf))
	}
	copy(dst, buf)
	p.SetDirty()
	return nil
}

// DeleteItem empties entry idx and closes the gap it leaves. Payloads stored
// in front of it move toward the end of the page by its length, so the
// payload region stays contiguous. The entry itself is kept with length 0.
func (p Page) DeleteItem(idx uint16) error {
	off, n, err := p.Item(idx)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	end := p.FreeEnd()
	copy(p[end+n:off+n], p[end:off])
	for i := 0; i < p.ItemCount(); i++ {
		e := p.entryOff(uint16(i))
		io, in := int(p.u16(e)), int(p.u16(e+2))
		if in > 0 && io < off {
			p.putU16(e, uint16(io+n))
		}
	}
	clear(p[end : end+n])
	p.setEntry(idx, off+n, 0)
	p.setFreeEnd(end + n)
	p.SetDirty()
	return nil
}

// LiveItems returns the number of non-empty entries.
func (p Page) LiveItems() int {
	live := 0
	for i := 0; i < p.ItemCount(); i++ {
		if p.u16(p.entryOff(uint16(i))+2) > 0 {
			live++
		}
	}
	return live
}

// Reset drops every entry, keeping flags.
func (p Page) Reset() {
	flags := p[offFlags]
	Init(p)
	p[offFlags] = flags | FlagDirty
}
