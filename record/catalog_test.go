package record

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qminer/qminer-sub006/internal/fs"
)

func flipByte(t *testing.T, name string, off int) {
	t.Helper()
	data, err := os.ReadFile(name)
	require.NoError(t, err)
	if off < 0 {
		off += len(data)
	}
	data[off] ^= 0xff
	require.NoError(t, os.WriteFile(name, data, 0o644))
}

func TestOpenDetectsCorruptCatalog(t *testing.T) {
	s, dir := newPeople(t)
	addPerson(t, s, "a", 1)
	require.NoError(t, s.Close())

	flipByte(t, CatalogName(dir, "People"), -1)
	_, err := Open(dir, "People")
	assert.ErrorIs(t, err, ErrBadCatalog)
}

func TestOpenDetectsCorruptMemorySnapshot(t *testing.T) {
	s, dir := newPeople(t)
	addPerson(t, s, "a", 1)
	require.NoError(t, s.Close())

	require.NoError(t, os.WriteFile(MemName(dir, "People"), []byte("garbage"), 0o644))
	_, err := Open(dir, "People")
	assert.ErrorIs(t, err, ErrBadCatalog)
}

func TestOpenRequiresMemorySnapshot(t *testing.T) {
	s, dir := newPeople(t)
	addPerson(t, s, "a", 1)
	require.NoError(t, s.Close())

	require.NoError(t, os.Remove(MemName(dir, "People")))
	_, err := Open(dir, "People")
	assert.Error(t, err)
}

func TestCodebooksSurviveReopen(t *testing.T) {
	s, dir := newPeople(t)
	for i, g := range []string{"f", "m", "f", "x"} {
		_, err := s.AddRec(Value{"Name": string(rune('a' + i)), "Age": i, "Gender": g})
		require.NoError(t, err)
	}
	gf, _ := s.Schema().Field("Gender")
	assert.Equal(t, 3, s.books.Len(gf.ID))
	require.NoError(t, s.Close())

	s2, err := Open(dir, "People")
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 3, s2.books.Len(gf.ID))
	g, err := s2.GetFieldStr(3, "Gender")
	require.NoError(t, err)
	assert.Equal(t, "x", g)
	id, ok := s2.books.Lookup(gf.ID, "m")
	assert.True(t, ok)
	assert.Equal(t, uint32(1), id)
}

func TestFailedCatalogWriteKeepsPreviousCatalog(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	s, dir := newPeople(t, WithFileSystem(faulty))
	addPerson(t, s, "a", 1)
	require.NoError(t, s.Flush())

	fault := fs.NoFault
	fault.FailOnSync = true
	faulty.AddRule(".store.tmp", fault)
	addPerson(t, s, "b", 2)
	assert.ErrorIs(t, s.Flush(), fs.ErrInjected)

	faulty.ClearRules()
	require.NoError(t, s.blobs.Close())
	s.closed = true

	s2, err := Open(dir, "People")
	require.NoError(t, err)
	defer s2.Close()
	assert.True(t, s2.IsRecNm("a"))
	assert.False(t, s2.IsRecNm("b"))
}
