package record

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qminer/qminer-sub006/internal/fs"
)

func TestIterAndBounds(t *testing.T) {
	s, _ := newPeople(t)
	assert.Equal(t, uint64(NoRecID), s.FirstRecID())
	assert.Equal(t, uint64(NoRecID), s.LastRecID())

	for i, name := range []string{"a", "b", "c", "d"} {
		addPerson(t, s, name, i)
	}
	require.NoError(t, s.DeleteRecs([]uint64{1}))

	assert.Equal(t, []uint64{0, 2, 3}, slices.Collect(s.Iter()))
	assert.Equal(t, uint64(0), s.FirstRecID())
	assert.Equal(t, uint64(3), s.LastRecID())

	var first []uint64
	for id := range s.Iter() {
		first = append(first, id)
		break
	}
	assert.Equal(t, []uint64{0}, first)
}

func TestDeleteRecsIsAllOrNothing(t *testing.T) {
	s, _ := newPeople(t)
	a := addPerson(t, s, "a", 1)
	b := addPerson(t, s, "b", 2)

	err := s.DeleteRecs([]uint64{a, 42})
	assert.ErrorIs(t, err, ErrUnknownRecord)
	assert.Equal(t, uint64(2), s.Recs())

	require.NoError(t, s.DeleteRecs([]uint64{a}))
	assert.False(t, s.IsRecNm("a"))
	assert.True(t, s.IsRecID(b))

	// The key of a deleted record is free again.
	c := addPerson(t, s, "a", 3)
	assert.NotEqual(t, a, c)
}

func TestDeleteFirstNRecs(t *testing.T) {
	s, _ := newPeople(t)
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		addPerson(t, s, name, i)
	}
	require.NoError(t, s.DeleteFirstNRecs(2))
	assert.Equal(t, []uint64{2, 3, 4}, slices.Collect(s.Iter()))

	require.NoError(t, s.DeleteFirstNRecs(0))
	require.NoError(t, s.DeleteFirstNRecs(10))
	assert.Equal(t, uint64(0), s.Recs())
}

func TestDeleteAllRecs(t *testing.T) {
	s, dir := newPeople(t)
	for i, name := range []string{"a", "b", "c"} {
		_, err := s.AddRec(Value{"Name": name, "Age": i, "Score": float64(i), "Bio": string(make([]byte, 3000))})
		require.NoError(t, err)
	}
	require.NoError(t, s.DeleteAllRecs())
	assert.Equal(t, uint64(0), s.Recs())
	assert.Equal(t, int64(0), s.Stats().MemoryBytes)
	assert.False(t, s.IsRecNm("a"))

	id := addPerson(t, s, "a", 1)
	assert.Equal(t, uint64(3), id)
	require.NoError(t, s.Close())

	s2, err := Open(dir, "People")
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, []uint64{3}, slices.Collect(s2.Iter()))
}

func TestGarbageCollectLengthWindow(t *testing.T) {
	schema := mustSchema(t, `{"name":"Log","fields":[{"name":"Msg","type":"string"}],"window":3}`)
	s, err := Create(t.TempDir(), schema)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.GarbageCollect()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for _, msg := range []string{"m0", "m1", "m2", "m3", "m4"} {
		_, err := s.AddRec(Value{"Msg": msg})
		require.NoError(t, err)
	}
	n, err = s.GarbageCollect()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{2, 3, 4}, slices.Collect(s.Iter()))

	n, err = s.GarbageCollect()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGarbageCollectTimeWindow(t *testing.T) {
	schema := mustSchema(t, `{"name":"Ticks","fields":[
		{"name":"At","type":"datetime"},
		{"name":"V","type":"float"}],
		"timeWindow":{"duration":10,"unit":"second","field":"At"}}`)
	s, err := Create(t.TempDir(), schema)
	require.NoError(t, err)
	defer s.Close()

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, sec := range []int{0, 5, 11, 20} {
		_, err := s.AddRec(Value{"At": base.Add(time.Duration(sec) * time.Second), "V": sec})
		require.NoError(t, err)
	}
	n, err := s.GarbageCollect()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []uint64{2, 3}, slices.Collect(s.Iter()))

	at, err := s.GetFieldTm(s.FirstRecID(), "At")
	require.NoError(t, err)
	assert.Equal(t, base.Add(11*time.Second), at)
}

func TestDeleteRecReadFailureKeepsRecord(t *testing.T) {
	schema := mustSchema(t, `{
		"name": "Notes",
		"fields": [
			{"name": "Name", "type": "string", "primary": true, "store": "memory"},
			{"name": "Body", "type": "string"}
		]
	}`)
	dir := t.TempDir()
	s, err := Create(dir, schema)
	require.NoError(t, err)
	id, err := s.AddRec(Value{"Name": "alice", "Body": "first note"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	faulty := fs.NewFaultyFS(nil)
	fault := fs.NoFault
	fault.ShortReadAt = 10
	faulty.AddRule(".bin", fault)
	r := newRecorder()
	s, err = Open(dir, "Notes", WithFileSystem(faulty), WithTrigger(r))
	require.NoError(t, err)

	assert.Error(t, s.DeleteRecs([]uint64{id}))
	assert.True(t, s.IsRecID(id))
	got, ok := s.GetRecID("alice")
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.Empty(t, r.deleted)
	require.NoError(t, s.Close())

	s, err = Open(dir, "Notes")
	require.NoError(t, err)
	defer s.Close()
	got, ok = s.GetRecID("alice")
	require.True(t, ok)
	assert.Equal(t, id, got)

	require.NoError(t, s.DeleteRecs([]uint64{id}))
	assert.False(t, s.IsRecNm("alice"))
	again, err := s.AddRec(Value{"Name": "alice", "Body": "second note"})
	require.NoError(t, err)
	assert.NotEqual(t, id, again)
	assert.Equal(t, uint64(1), s.Recs())
}
