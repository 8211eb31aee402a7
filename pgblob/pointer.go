package pgblob

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Pointer addresses one stored blob: segment file, page within the file and
// item within the page. A Pointer is a value; relocating a blob produces a
// new Pointer rather than mutating the old one.
type Pointer struct {
	File int16
	Page uint32
	Item uint16
}

// Null is the pointer that addresses nothing.
var Null = Pointer{File: -1}

// PointerSize is the encoded size of a Pointer.
const PointerSize = 8

// IsNull reports whether p addresses nothing.
func (p Pointer) IsNull() bool { return p.File < 0 }

// PagePointer returns the page that holds p.
func (p Pointer) PagePointer() PagePointer { return PagePointer{File: p.File, Page: p.Page} }

// Compare orders pointers by file, then page, then item.
func (p Pointer) Compare(o Pointer) int {
	switch {
	case p.File != o.File:
		return cmpInt(int64(p.File), int64(o.File))
	case p.Page != o.Page:
		return cmpInt(int64(p.Page), int64(o.Page))
	default:
		return cmpInt(int64(p.Item), int64(o.Item))
	}
}

// Less reports whether p orders before o.
func (p Pointer) Less(o Pointer) bool { return p.Compare(o) < 0 }

// Key packs the three fields into one integer. The packing is injective, so
// Key is usable as a map key or for ordering within one file.
func (p Pointer) Key() uint64 {
	return uint64(uint16(p.File))<<48 | uint64(p.Page)<<16 | uint64(p.Item)
}

// Hash mixes all three fields.
func (p Pointer) Hash() uint64 { return mix64(p.Key()) }

func (p Pointer) String() string {
	if p.IsNull() {
		return "null"
	}
	return fmt.Sprintf("%d:%d:%d", p.File, p.Page, p.Item)
}

// AppendBinary appends the 8-byte little-endian encoding of p.
func (p Pointer) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, p.Page)
	b = binary.LittleEndian.AppendUint16(b, uint16(p.File))
	b = binary.LittleEndian.AppendUint16(b, p.Item)
	return b, nil
}

// MarshalBinary encodes p into 8 bytes.
func (p Pointer) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(make([]byte, 0, PointerSize))
}

// UnmarshalBinary decodes the first 8 bytes of data.
func (p *Pointer) UnmarshalBinary(data []byte) error {
	if len(data) < PointerSize {
		return errors.New("pgblob: short pointer encoding")
	}
	p.Page = binary.LittleEndian.Uint32(data)
	p.File = int16(binary.LittleEndian.Uint16(data[4:]))
	p.Item = binary.LittleEndian.Uint16(data[6:])
	return nil
}

// PagePointer addresses one page.
type PagePointer struct {
	File int16
	Page uint32
}

// Item returns the pointer to item idx on this page.
func (pp PagePointer) Item(idx uint16) Pointer {
	return Pointer{File: pp.File, Page: pp.Page, Item: idx}
}

func (pp PagePointer) String() string { return fmt.Sprintf("%d:%d", pp.File, pp.Page) }

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// mix64 is the splitmix64 finalizer.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
