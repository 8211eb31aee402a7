package pgblob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pp(file int16, page uint32) PagePointer { return PagePointer{File: file, Page: page} }

func TestFreeSpaceMapRoot(t *testing.T) {
	m := NewFreeSpaceMap()

	_, ok := m.GetFreePage(1)
	assert.False(t, ok)

	m.AddPage(pp(0, 0), 100)
	m.AddPage(pp(0, 1), 500)
	m.AddPage(pp(0, 2), 300)
	assert.Equal(t, 3, m.Len())

	got, ok := m.GetFreePage(400)
	require.True(t, ok)
	assert.Equal(t, pp(0, 1), got)

	// Only the root is considered.
	_, ok = m.GetFreePage(501)
	assert.False(t, ok)
}

func TestFreeSpaceMapUpdate(t *testing.T) {
	m := NewFreeSpaceMap()
	m.AddPage(pp(0, 0), 100)
	m.AddPage(pp(0, 1), 500)
	m.AddPage(pp(0, 2), 300)

	m.UpdatePage(pp(0, 1), 50)
	got, ok := m.GetFreePage(1)
	require.True(t, ok)
	assert.Equal(t, pp(0, 2), got)

	m.UpdatePage(pp(0, 0), 8000)
	got, _ = m.GetFreePage(1)
	assert.Equal(t, pp(0, 0), got)

	// Unknown pages are added.
	m.UpdatePage(pp(1, 7), 8100)
	got, _ = m.GetFreePage(8100)
	assert.Equal(t, pp(1, 7), got)
	assert.Equal(t, 4, m.Len())

	free, ok := m.Free(pp(0, 1))
	require.True(t, ok)
	assert.Equal(t, 50, free)
}

func TestFreeSpaceMapRemove(t *testing.T) {
	m := NewFreeSpaceMap()
	for i := range 10 {
		m.AddPage(pp(0, uint32(i)), i*10)
	}
	m.Remove(pp(0, 9))
	m.Remove(pp(0, 3))
	m.Remove(pp(5, 5))
	assert.Equal(t, 8, m.Len())

	got, _ := m.GetFreePage(0)
	assert.Equal(t, pp(0, 8), got)

	_, ok := m.Free(pp(0, 3))
	assert.False(t, ok)

	assert.Equal(t, []PagePointer{pp(0, 0), pp(0, 1), pp(0, 2), pp(0, 4), pp(0, 5), pp(0, 6), pp(0, 7), pp(0, 8)}, m.Pages())
}

func TestFreeSpaceMapHeapOrder(t *testing.T) {
	m := NewFreeSpaceMap()
	frees := []int{5, 80, 13, 900, 1, 450, 77, 300, 8000, 2}
	for i, f := range frees {
		m.AddPage(pp(0, uint32(i)), f)
	}
	// Drain by repeatedly taking the root and removing it.
	var order []int
	for m.Len() > 0 {
		root, _ := m.GetFreePage(0)
		f, _ := m.Free(root)
		order = append(order, f)
		m.Remove(root)
	}
	assert.Equal(t, []int{8000, 900, 450, 300, 80, 77, 13, 5, 2, 1}, order)
}

func TestFreeSpaceMapBinary(t *testing.T) {
	m := NewFreeSpaceMap()
	m.AddPage(pp(0, 0), 10)
	m.AddPage(pp(0, 1), 4000)
	m.AddPage(pp(2, 9), 700)

	b, err := m.AppendBinary(nil)
	require.NoError(t, err)

	got, rest, err := decodeFreeSpaceMap(append(b, 0xAA))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA}, rest)
	assert.Equal(t, 3, got.Len())
	root, _ := got.GetFreePage(0)
	assert.Equal(t, pp(0, 1), root)
	free, _ := got.Free(pp(2, 9))
	assert.Equal(t, 700, free)

	_, _, err = decodeFreeSpaceMap(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrBadMain)
}
