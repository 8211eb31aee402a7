package record

import (
	"fmt"
	"io"
	"math"

	"github.com/qminer/qminer-sub006/internal/binfmt"
)

// primaryIndex maps primary-key values in stored form to record ids.
type primaryIndex interface {
	get(key any) (uint64, bool)
	set(key any, id uint64)
	del(key any)
	len() int
	clear()
	encode(e *binfmt.Encoder)
	decode(d *binfmt.Decoder)
}

type keyMap[K comparable] struct {
	m      map[K]uint64
	encKey func(*binfmt.Encoder, K)
	decKey func(*binfmt.Decoder) K
}

func newKeyMap[K comparable](enc func(*binfmt.Encoder, K), dec func(*binfmt.Decoder) K) *keyMap[K] {
	return &keyMap[K]{m: make(map[K]uint64), encKey: enc, decKey: dec}
}

func (km *keyMap[K]) lookup(key any) (uint64, bool) {
	k, ok := key.(K)
	if !ok {
		return 0, false
	}
	id, ok := km.m[k]
	return id, ok
}

func (km *keyMap[K]) store(key any, id uint64) { km.m[key.(K)] = id }

func (km *keyMap[K]) remove(key any) {
	if k, ok := key.(K); ok {
		delete(km.m, k)
	}
}

func (km *keyMap[K]) size() int { return len(km.m) }
func (km *keyMap[K]) reset()    { clear(km.m) }

// Format: [Count uvarint] [Entry...], Entry: [Key] [RecordID uvarint].
func (km *keyMap[K]) save(e *binfmt.Encoder) {
	e.Uvarint(uint64(len(km.m)))
	for k, id := range km.m {
		km.encKey(e, k)
		e.Uvarint(id)
	}
}

func (km *keyMap[K]) load(d *binfmt.Decoder) {
	n := d.Uvarint()
	if n > uint64(d.Remaining()) {
		d.Fail(io.ErrUnexpectedEOF)
		return
	}
	km.m = make(map[K]uint64, n)
	for i := uint64(0); i < n && d.Err() == nil; i++ {
		k := km.decKey(d)
		km.m[k] = d.Uvarint()
	}
}

// keyIndex adapts keyMap to primaryIndex.
type keyIndex[K comparable] struct{ *keyMap[K] }

func (x keyIndex[K]) get(key any) (uint64, bool) { return x.lookup(key) }
func (x keyIndex[K]) set(key any, id uint64)     { x.store(key, id) }
func (x keyIndex[K]) del(key any)                { x.remove(key) }
func (x keyIndex[K]) len() int                   { return x.size() }
func (x keyIndex[K]) clear()                     { x.reset() }
func (x keyIndex[K]) encode(e *binfmt.Encoder)   { x.save(e) }
func (x keyIndex[K]) decode(d *binfmt.Decoder)   { x.load(d) }

// newPrimaryIndex returns the map for a primary field of kind. Datetimes
// are keyed by milliseconds. Float keys are stored by their bits so that
// -0 and NaN keys survive a round trip.
func newPrimaryIndex(kind FieldKind) (primaryIndex, error) {
	switch kind {
	case FieldStr:
		return keyIndex[string]{newKeyMap(
			func(e *binfmt.Encoder, k string) { e.String(k) },
			func(d *binfmt.Decoder) string { return d.String() },
		)}, nil
	case FieldInt, FieldTm:
		return keyIndex[int64]{newKeyMap(
			func(e *binfmt.Encoder, k int64) { e.Varint(k) },
			func(d *binfmt.Decoder) int64 { return d.Varint() },
		)}, nil
	case FieldUInt64:
		return keyIndex[uint64]{newKeyMap(
			func(e *binfmt.Encoder, k uint64) { e.Uvarint(k) },
			func(d *binfmt.Decoder) uint64 { return d.Uvarint() },
		)}, nil
	case FieldFlt:
		return floatIndex{newKeyMap(
			func(e *binfmt.Encoder, k uint64) { e.Uint64(k) },
			func(d *binfmt.Decoder) uint64 { return d.Uint64() },
		)}, nil
	}
	return nil, fmt.Errorf("%w: %s cannot be a primary key", ErrSchema, kind)
}

type floatIndex struct{ *keyMap[uint64] }

func floatKey(key any) any {
	if f, ok := key.(float64); ok {
		return math.Float64bits(f)
	}
	return nil
}

func (x floatIndex) get(key any) (uint64, bool) { return x.lookup(floatKey(key)) }
func (x floatIndex) set(key any, id uint64)     { x.store(floatKey(key), id) }
func (x floatIndex) del(key any)                { x.remove(floatKey(key)) }
func (x floatIndex) len() int                   { return x.size() }
func (x floatIndex) clear()                     { x.reset() }
func (x floatIndex) encode(e *binfmt.Encoder)   { x.save(e) }
func (x floatIndex) decode(d *binfmt.Decoder)   { x.load(d) }
