package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/qminer/qminer-sub006/internal/binfmt"
	"github.com/qminer/qminer-sub006/pgblob"
)

// Toaster stores values too large for a record buffer out of line.
type Toaster interface {
	ToastVal(data []byte) (pgblob.Pointer, error)
	UnToastVal(ptr pgblob.Pointer) ([]byte, error)
	DelToastVal(ptr pgblob.Pointer) error
}

// Serializer turns the fields of one location into a byte buffer and back.
// Field ids are schema field ids. Values are passed in and returned in
// stored form (see normalize); nil is null.
type Serializer interface {
	// Serialize encodes a new record. Absent nullable fields are null.
	Serialize(v Value, toast Toaster) ([]byte, error)
	// SerializeUpdate encodes old patched with v and returns the ids of
	// the fields v changed. Toasted values of fields v does not mention
	// keep their pointers.
	SerializeUpdate(v Value, old []byte, toast Toaster) ([]byte, []int, error)
	// SerializeUpdateInPlace patches fixed-part fields of buf.
	SerializeUpdateInPlace(v Value, buf []byte) ([]int, error)
	// SetFieldInPlace patches one fixed-part field of buf.
	SetFieldInPlace(buf []byte, id int, val any) error
	Field(buf []byte, id int, toast Toaster) (any, error)
	IsNull(buf []byte, id int) (bool, error)
	IsInFixedPart(id int) bool
	// ToastPointers lists the toasted values buf refers to.
	ToastPointers(buf []byte) ([]pgblob.Pointer, error)
}

// SerializerFactory builds the serializer for the fields of schema stored
// at loc.
type SerializerFactory func(schema *Schema, loc FieldLocation, books *Codebooks) Serializer

// ToastThreshold is the encoded size above which the default serializer
// moves a variable-length disk value out of line.
const ToastThreshold = pgblob.PageSize / 4

const (
	entryInline byte = 0
	entryToast  byte = 1
)

type slotInfo struct {
	field  *FieldDesc
	offset int
	size   int
}

// defaultSerializer lays a record out as
//
//	null bitmap, one bit per field at this location
//	fixed part, one slot per field; variable fields hold a u32 offset
//	variable part, one entry per non-null variable field:
//	  0x00 uvarint(len) payload | 0x01 8-byte blob pointer
type defaultSerializer struct {
	schema    *Schema
	loc       FieldLocation
	books     *Codebooks
	threshold int
	slots     []slotInfo
	local     []int
	headerLen int
}

// NewSerializer returns the default serializer. Disk values longer than
// ToastThreshold are toasted.
func NewSerializer(schema *Schema, loc FieldLocation, books *Codebooks) Serializer {
	s := &defaultSerializer{
		schema: schema,
		loc:    loc,
		books:  books,
		local:  make([]int, len(schema.Fields)),
	}
	if loc == Disk {
		s.threshold = ToastThreshold
	}
	for i := range schema.Fields {
		f := &schema.Fields[i]
		s.local[i] = -1
		if f.Location != loc {
			continue
		}
		s.local[i] = len(s.slots)
		s.slots = append(s.slots, slotInfo{field: f, size: fixedSize(f)})
	}
	off := (len(s.slots) + 7) / 8
	for i := range s.slots {
		s.slots[i].offset = off
		off += s.slots[i].size
	}
	s.headerLen = off
	return s
}

func fixedSize(f *FieldDesc) int {
	switch {
	case f.Kind == FieldFltPr:
		return 16
	case f.Kind == FieldBool:
		return 1
	case f.Kind.IsVar():
		return 4
	}
	return 8
}

type entry struct {
	set  bool
	null bool
	val  any
	raw  []byte
}

func (s *defaultSerializer) slot(id int) (int, error) {
	if id < 0 || id >= len(s.local) || s.local[id] < 0 {
		return 0, fmt.Errorf("%w: field %d is not stored at %s", ErrUnknownField, id, s.loc)
	}
	return s.local[id], nil
}

func (s *defaultSerializer) checkBuf(buf []byte) error {
	if len(buf) < s.headerLen {
		return fmt.Errorf("%w: %d bytes, header needs %d", ErrCorruptRecord, len(buf), s.headerLen)
	}
	return nil
}

func isNullBit(buf []byte, i int) bool { return buf[i/8]&(1<<(i%8)) != 0 }
func setNullBit(buf []byte, i int)     { buf[i/8] |= 1 << (i % 8) }
func clearNullBit(buf []byte, i int)   { buf[i/8] &^= 1 << (i % 8) }

// collect normalizes the fields of v stored here. With old == nil absent
// fields become null; otherwise they are carried over from old.
func (s *defaultSerializer) collect(v Value, old []byte) ([]entry, []int, error) {
	entries := make([]entry, len(s.slots))
	var changed []int
	for name, raw := range v {
		if strings.HasPrefix(name, "$") {
			continue
		}
		f, ok := s.schema.Field(name)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		if f.Location != s.loc {
			continue
		}
		e := &entries[s.local[f.ID]]
		e.set = true
		changed = append(changed, f.ID)
		if raw == nil {
			if !f.Nullable {
				return nil, nil, fmt.Errorf("%w: %s", ErrNotNullable, name)
			}
			e.null = true
			continue
		}
		val, err := normalize(f.Kind, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("field %s: %w", name, err)
		}
		e.val = val
	}
	slices.Sort(changed)

	for i := range entries {
		e := &entries[i]
		if e.set {
			continue
		}
		f := s.slots[i].field
		if old == nil {
			if !f.Nullable {
				return nil, nil, fmt.Errorf("%w: %s", ErrMissingField, f.Name)
			}
			e.null = true
			continue
		}
		e.null = isNullBit(old, i)
		if !e.null && !f.InFixedPart() {
			raw, err := s.rawEntry(old, i)
			if err != nil {
				return nil, nil, err
			}
			e.raw = raw
		}
	}
	return entries, changed, nil
}

func (s *defaultSerializer) build(entries []entry, old []byte, toast Toaster) ([]byte, error) {
	buf := make([]byte, s.headerLen, s.headerLen+64)
	var toasted []pgblob.Pointer
	fail := func(err error) ([]byte, error) {
		for _, ptr := range toasted {
			_ = toast.DelToastVal(ptr)
		}
		return nil, err
	}
	for i := range s.slots {
		sl := &s.slots[i]
		e := &entries[i]
		if e.null {
			setNullBit(buf, i)
			continue
		}
		if sl.field.InFixedPart() {
			if e.set {
				s.putFixed(buf[sl.offset:sl.offset+sl.size], sl.field, e.val)
			} else {
				copy(buf[sl.offset:sl.offset+sl.size], old[sl.offset:sl.offset+sl.size])
			}
			continue
		}
		binary.LittleEndian.PutUint32(buf[sl.offset:], uint32(len(buf)))
		if !e.set {
			buf = append(buf, e.raw...)
			continue
		}
		payload := encodeVar(sl.field.Kind, e.val)
		if toast != nil && s.threshold > 0 && len(payload) > s.threshold {
			ptr, err := toast.ToastVal(payload)
			if err != nil {
				return fail(fmt.Errorf("toast %s: %w", sl.field.Name, err))
			}
			toasted = append(toasted, ptr)
			buf = append(buf, entryToast)
			buf, _ = ptr.AppendBinary(buf)
			continue
		}
		buf = append(buf, entryInline)
		buf = binary.AppendUvarint(buf, uint64(len(payload)))
		buf = append(buf, payload...)
	}
	return buf, nil
}

func (s *defaultSerializer) Serialize(v Value, toast Toaster) ([]byte, error) {
	entries, _, err := s.collect(v, nil)
	if err != nil {
		return nil, err
	}
	return s.build(entries, nil, toast)
}

func (s *defaultSerializer) SerializeUpdate(v Value, old []byte, toast Toaster) ([]byte, []int, error) {
	if err := s.checkBuf(old); err != nil {
		return nil, nil, err
	}
	entries, changed, err := s.collect(v, old)
	if err != nil {
		return nil, nil, err
	}
	buf, err := s.build(entries, old, toast)
	if err != nil {
		return nil, nil, err
	}
	return buf, changed, nil
}

func (s *defaultSerializer) SerializeUpdateInPlace(v Value, buf []byte) ([]int, error) {
	if err := s.checkBuf(buf); err != nil {
		return nil, err
	}
	entries, changed, err := s.collect(v, buf)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].set && !s.slots[i].field.InFixedPart() {
			return nil, fmt.Errorf("%w: %s is not in the fixed part", ErrFieldKind, s.slots[i].field.Name)
		}
	}
	for i := range entries {
		e := &entries[i]
		if !e.set {
			continue
		}
		if e.null {
			setNullBit(buf, i)
			continue
		}
		sl := &s.slots[i]
		clearNullBit(buf, i)
		s.putFixed(buf[sl.offset:sl.offset+sl.size], sl.field, e.val)
	}
	return changed, nil
}

func (s *defaultSerializer) SetFieldInPlace(buf []byte, id int, val any) error {
	i, err := s.slot(id)
	if err != nil {
		return err
	}
	_, err = s.SerializeUpdateInPlace(Value{s.slots[i].field.Name: val}, buf)
	return err
}

func (s *defaultSerializer) IsInFixedPart(id int) bool {
	i, err := s.slot(id)
	return err == nil && s.slots[i].field.InFixedPart()
}

func (s *defaultSerializer) IsNull(buf []byte, id int) (bool, error) {
	i, err := s.slot(id)
	if err != nil {
		return false, err
	}
	if err := s.checkBuf(buf); err != nil {
		return false, err
	}
	return isNullBit(buf, i), nil
}

func (s *defaultSerializer) Field(buf []byte, id int, toast Toaster) (any, error) {
	i, err := s.slot(id)
	if err != nil {
		return nil, err
	}
	if err := s.checkBuf(buf); err != nil {
		return nil, err
	}
	if isNullBit(buf, i) {
		return nil, nil
	}
	sl := &s.slots[i]
	if sl.field.InFixedPart() {
		return s.getFixed(buf[sl.offset:sl.offset+sl.size], sl.field)
	}
	raw, err := s.rawEntry(buf, i)
	if err != nil {
		return nil, err
	}
	var payload []byte
	if raw[0] == entryToast {
		if toast == nil {
			return nil, fmt.Errorf("%w: toasted value without a toaster", ErrCorruptRecord)
		}
		var ptr pgblob.Pointer
		if err := ptr.UnmarshalBinary(raw[1:]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		if payload, err = toast.UnToastVal(ptr); err != nil {
			return nil, err
		}
	} else {
		n, k := binary.Uvarint(raw[1:])
		payload = raw[1+k : 1+k+int(n)]
	}
	return decodeVar(sl.field.Kind, payload)
}

func (s *defaultSerializer) ToastPointers(buf []byte) ([]pgblob.Pointer, error) {
	if err := s.checkBuf(buf); err != nil {
		return nil, err
	}
	var out []pgblob.Pointer
	for i := range s.slots {
		if isNullBit(buf, i) || s.slots[i].field.InFixedPart() {
			continue
		}
		raw, err := s.rawEntry(buf, i)
		if err != nil {
			return nil, err
		}
		if raw[0] != entryToast {
			continue
		}
		var ptr pgblob.Pointer
		if err := ptr.UnmarshalBinary(raw[1:]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		out = append(out, ptr)
	}
	return out, nil
}

// rawEntry returns the variable-part entry of slot i, flag byte included.
func (s *defaultSerializer) rawEntry(buf []byte, i int) ([]byte, error) {
	off := int(binary.LittleEndian.Uint32(buf[s.slots[i].offset:]))
	if off < s.headerLen || off >= len(buf) {
		return nil, fmt.Errorf("%w: field %s at offset %d", ErrCorruptRecord, s.slots[i].field.Name, off)
	}
	switch buf[off] {
	case entryToast:
		end := off + 1 + pgblob.PointerSize
		if end > len(buf) {
			return nil, fmt.Errorf("%w: truncated toast pointer", ErrCorruptRecord)
		}
		return buf[off:end], nil
	case entryInline:
		n, k := binary.Uvarint(buf[off+1:])
		if k <= 0 || uint64(len(buf)-off-1-k) < n {
			return nil, fmt.Errorf("%w: truncated value of %s", ErrCorruptRecord, s.slots[i].field.Name)
		}
		return buf[off : off+1+k+int(n)], nil
	}
	return nil, fmt.Errorf("%w: entry flag %d", ErrCorruptRecord, buf[off])
}

func (s *defaultSerializer) putFixed(dst []byte, f *FieldDesc, v any) {
	switch f.Kind {
	case FieldInt, FieldTm:
		binary.LittleEndian.PutUint64(dst, uint64(v.(int64)))
	case FieldUInt64:
		binary.LittleEndian.PutUint64(dst, v.(uint64))
	case FieldFlt:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v.(float64)))
	case FieldFltPr:
		p := v.([2]float64)
		binary.LittleEndian.PutUint64(dst, math.Float64bits(p[0]))
		binary.LittleEndian.PutUint64(dst[8:], math.Float64bits(p[1]))
	case FieldBool:
		dst[0] = 0
		if v.(bool) {
			dst[0] = 1
		}
	case FieldStr:
		binary.LittleEndian.PutUint32(dst, s.books.ID(f.ID, v.(string)))
	}
}

func (s *defaultSerializer) getFixed(src []byte, f *FieldDesc) (any, error) {
	switch f.Kind {
	case FieldInt, FieldTm:
		return int64(binary.LittleEndian.Uint64(src)), nil
	case FieldUInt64:
		return binary.LittleEndian.Uint64(src), nil
	case FieldFlt:
		return math.Float64frombits(binary.LittleEndian.Uint64(src)), nil
	case FieldFltPr:
		return [2]float64{
			math.Float64frombits(binary.LittleEndian.Uint64(src)),
			math.Float64frombits(binary.LittleEndian.Uint64(src[8:])),
		}, nil
	case FieldBool:
		return src[0] != 0, nil
	case FieldStr:
		return s.books.Str(f.ID, binary.LittleEndian.Uint32(src))
	}
	return nil, fmt.Errorf("%w: %s has no fixed slot", ErrCorruptRecord, f.Name)
}

func encodeVar(kind FieldKind, v any) []byte {
	e := binfmt.NewEncoder(nil)
	switch kind {
	case FieldStr:
		e.Raw([]byte(v.(string)))
	case FieldIntV:
		xs := v.([]int64)
		e.Uvarint(uint64(len(xs)))
		for _, x := range xs {
			e.Varint(x)
		}
	case FieldFltV:
		xs := v.([]float64)
		e.Uvarint(uint64(len(xs)))
		for _, x := range xs {
			e.Float64(x)
		}
	case FieldStrV:
		xs := v.([]string)
		e.Uvarint(uint64(len(xs)))
		for _, x := range xs {
			e.String(x)
		}
	case FieldNumSpV:
		xs := v.([]SparseEntry)
		e.Uvarint(uint64(len(xs)))
		for _, x := range xs {
			e.Varint(int64(x.Index))
			e.Float64(x.Value)
		}
	case FieldBowSpV:
		xs := v.([]BowEntry)
		e.Uvarint(uint64(len(xs)))
		for _, x := range xs {
			e.Varint(int64(x.Word))
			e.Float32(x.Weight)
		}
	}
	return e.Bytes()
}

func decodeVar(kind FieldKind, payload []byte) (any, error) {
	if kind == FieldStr {
		return string(payload), nil
	}
	d := binfmt.NewDecoder(payload)
	n := d.Uvarint()
	if n > uint64(d.Remaining()) {
		return nil, fmt.Errorf("%w: %s of %d elements in %d bytes", ErrCorruptRecord, kind, n, d.Remaining())
	}
	var out any
	switch kind {
	case FieldIntV:
		xs := make([]int64, n)
		for i := range xs {
			xs[i] = d.Varint()
		}
		out = xs
	case FieldFltV:
		xs := make([]float64, n)
		for i := range xs {
			xs[i] = d.Float64()
		}
		out = xs
	case FieldStrV:
		xs := make([]string, n)
		for i := range xs {
			xs[i] = d.String()
		}
		out = xs
	case FieldNumSpV:
		xs := make([]SparseEntry, n)
		for i := range xs {
			xs[i] = SparseEntry{Index: int32(d.Varint()), Value: d.Float64()}
		}
		out = xs
	case FieldBowSpV:
		xs := make([]BowEntry, n)
		for i := range xs {
			xs[i] = BowEntry{Word: int32(d.Varint()), Weight: d.Float32()}
		}
		out = xs
	default:
		return nil, fmt.Errorf("%w: %s is not variable", ErrCorruptRecord, kind)
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, kind, err)
	}
	return out, nil
}
