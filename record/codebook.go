package record

import (
	"fmt"
	"io"

	"github.com/qminer/qminer-sub006/internal/binfmt"
)

type codebook struct {
	ids  map[string]uint32
	strs []string
}

// Codebooks maps the strings of codebook fields to dense ids, one
// dictionary per field. Ids are never reused.
type Codebooks struct {
	books map[int]*codebook
}

func newCodebooks() *Codebooks {
	return &Codebooks{books: make(map[int]*codebook)}
}

// ID returns the id of s in the dictionary of field, adding it if needed.
func (c *Codebooks) ID(field int, s string) uint32 {
	b := c.books[field]
	if b == nil {
		b = &codebook{ids: make(map[string]uint32)}
		c.books[field] = b
	}
	if id, ok := b.ids[s]; ok {
		return id
	}
	id := uint32(len(b.strs))
	b.ids[s] = id
	b.strs = append(b.strs, s)
	return id
}

// Lookup returns the id of s without adding it.
func (c *Codebooks) Lookup(field int, s string) (uint32, bool) {
	b := c.books[field]
	if b == nil {
		return 0, false
	}
	id, ok := b.ids[s]
	return id, ok
}

// Str returns the string with the given id.
func (c *Codebooks) Str(field int, id uint32) (string, error) {
	b := c.books[field]
	if b == nil || int(id) >= len(b.strs) {
		return "", fmt.Errorf("%w: codebook id %d of field %d", ErrCorruptRecord, id, field)
	}
	return b.strs[id], nil
}

// Len returns the number of strings known for field.
func (c *Codebooks) Len(field int) int {
	if b := c.books[field]; b != nil {
		return len(b.strs)
	}
	return 0
}

func (c *Codebooks) encode(e *binfmt.Encoder) {
	e.Uvarint(uint64(len(c.books)))
	for field, b := range c.books {
		e.Uvarint(uint64(field))
		e.Uvarint(uint64(len(b.strs)))
		for _, s := range b.strs {
			e.String(s)
		}
	}
}

func decodeCodebooks(d *binfmt.Decoder) *Codebooks {
	c := newCodebooks()
	n := d.Uvarint()
	for i := uint64(0); i < n && d.Err() == nil; i++ {
		field := int(d.Uvarint())
		count := d.Uvarint()
		if count > uint64(d.Remaining()) {
			d.Fail(io.ErrUnexpectedEOF)
			break
		}
		for j := uint64(0); j < count; j++ {
			c.ID(field, d.String())
		}
	}
	return c
}
