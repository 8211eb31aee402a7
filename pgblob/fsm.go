package pgblob

import (
	"encoding/binary"
	"fmt"
	"slices"
)

type fsmEntry struct {
	page PagePointer
	free uint16
}

const fsmEntrySize = 8

// FreeSpaceMap is a max-heap of pages keyed by free bytes, with an index
// from page to heap position so updates need no scan.
type FreeSpaceMap struct {
	heap []fsmEntry
	pos  map[PagePointer]int
}

// NewFreeSpaceMap returns an empty map.
func NewFreeSpaceMap() *FreeSpaceMap {
	return &FreeSpaceMap{pos: make(map[PagePointer]int)}
}

// Len returns the number of tracked pages.
func (m *FreeSpaceMap) Len() int { return len(m.heap) }

// AddPage starts tracking pp. A page that is already tracked is updated.
func (m *FreeSpaceMap) AddPage(pp PagePointer, free int) {
	if _, ok := m.pos[pp]; ok {
		m.UpdatePage(pp, free)
		return
	}
	m.heap = append(m.heap, fsmEntry{page: pp, free: uint16(free)})
	i := len(m.heap) - 1
	m.pos[pp] = i
	m.up(i)
}

// UpdatePage sets the free bytes of pp, adding it when unknown.
func (m *FreeSpaceMap) UpdatePage(pp PagePointer, free int) {
	i, ok := m.pos[pp]
	if !ok {
		m.AddPage(pp, free)
		return
	}
	old := m.heap[i].free
	m.heap[i].free = uint16(free)
	if uint16(free) > old {
		m.up(i)
	} else {
		m.down(i)
	}
}

// Remove stops tracking pp.
func (m *FreeSpaceMap) Remove(pp PagePointer) {
	i, ok := m.pos[pp]
	if !ok {
		return
	}
	last := len(m.heap) - 1
	m.swap(i, last)
	m.heap = m.heap[:last]
	delete(m.pos, pp)
	if i < last {
		m.down(i)
		m.up(i)
	}
}

// Free returns the recorded free bytes of pp.
func (m *FreeSpaceMap) Free(pp PagePointer) (int, bool) {
	i, ok := m.pos[pp]
	if !ok {
		return 0, false
	}
	return int(m.heap[i].free), true
}

// GetFreePage returns the page with the most free space if it has at least
// required bytes. Only the root is inspected: when the fullest candidate
// does not fit, no page does.
func (m *FreeSpaceMap) GetFreePage(required int) (PagePointer, bool) {
	if len(m.heap) == 0 || int(m.heap[0].free) < required {
		return PagePointer{}, false
	}
	return m.heap[0].page, true
}

// Pages returns every tracked page in pointer order.
func (m *FreeSpaceMap) Pages() []PagePointer {
	out := make([]PagePointer, 0, len(m.heap))
	for _, e := range m.heap {
		out = append(out, e.page)
	}
	slices.SortFunc(out, func(a, b PagePointer) int {
		return a.Item(0).Compare(b.Item(0))
	})
	return out
}

// Clear drops every entry.
func (m *FreeSpaceMap) Clear() {
	m.heap = m.heap[:0]
	clear(m.pos)
}

func (m *FreeSpaceMap) less(i, j int) bool { return m.heap[i].free > m.heap[j].free }

func (m *FreeSpaceMap) swap(i, j int) {
	m.heap[i], m.heap[j] = m.heap[j], m.heap[i]
	m.pos[m.heap[i].page] = i
	m.pos[m.heap[j].page] = j
}

func (m *FreeSpaceMap) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !m.less(i, parent) {
			return
		}
		m.swap(i, parent)
		i = parent
	}
}

func (m *FreeSpaceMap) down(i int) {
	n := len(m.heap)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && m.less(r, l) {
			best = r
		}
		if !m.less(best, i) {
			return
		}
		m.swap(i, best)
		i = best
	}
}

// AppendBinary appends the entry count followed by each entry in heap order.
func (m *FreeSpaceMap) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(m.heap)))
	for _, e := range m.heap {
		b = binary.LittleEndian.AppendUint16(b, uint16(e.page.File))
		b = binary.LittleEndian.AppendUint32(b, e.page.Page)
		b = binary.LittleEndian.AppendUint16(b, e.free)
	}
	return b, nil
}

// decodeFreeSpaceMap reads a map written by AppendBinary and returns the
// remaining bytes.
func decodeFreeSpaceMap(b []byte) (*FreeSpaceMap, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated free-space map", ErrBadMain)
	}
	n := int(binary.LittleEndian.Uint32(b))
	b = b[4:]
	if len(b) < n*fsmEntrySize {
		return nil, nil, fmt.Errorf("%w: free-space map has %d entries but %d bytes", ErrBadMain, n, len(b))
	}
	m := &FreeSpaceMap{heap: make([]fsmEntry, n), pos: make(map[PagePointer]int, n)}
	for i := range n {
		e := fsmEntry{
			page: PagePointer{
				File: int16(binary.LittleEndian.Uint16(b)),
				Page: binary.LittleEndian.Uint32(b[2:]),
			},
			free: binary.LittleEndian.Uint16(b[6:]),
		}
		if _, dup := m.pos[e.page]; dup {
			return nil, nil, fmt.Errorf("%w: page %s listed twice", ErrBadMain, e.page)
		}
		m.heap[i] = e
		m.pos[e.page] = i
		b = b[fsmEntrySize:]
	}
	for i := n/2 - 1; i >= 0; i-- {
		m.down(i)
	}
	return m, b, nil
}
