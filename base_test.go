package pgstore_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qminer/qminer-sub006"
	"github.com/qminer/qminer-sub006/blobstore"
	"github.com/qminer/qminer-sub006/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schemas = `[
	{
		"name": "People",
		"fields": [
			{"name": "Name", "type": "string", "primary": true},
			{"name": "Age", "type": "int", "null": true},
			{"name": "Bio", "type": "string", "null": true}
		]
	},
	{
		"name": "Events",
		"fields": [
			{"name": "Kind", "type": "string", "codebook": true},
			{"name": "At", "type": "datetime"}
		],
		"window": 3
	}
]`

func newBase(t *testing.T, opts ...pgstore.Option) (*pgstore.Base, string) {
	t.Helper()
	dir := t.TempDir()
	b, err := pgstore.Create(dir, []byte(schemas), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, dir
}

func addPeople(t *testing.T, b *pgstore.Base, n int) {
	t.Helper()
	st, err := b.Store("People")
	require.NoError(t, err)
	for i := range n {
		_, err := st.AddRec(record.Value{"Name": fmt.Sprintf("person-%d", i), "Age": i})
		require.NoError(t, err)
	}
}

func TestCreateOpen(t *testing.T) {
	b, dir := newBase(t)
	assert.Equal(t, []string{"People", "Events"}, b.StoreNames())

	people, err := b.Store("People")
	require.NoError(t, err)
	id, err := people.AddRec(record.Value{"Name": "Alice", "Age": 31, "Bio": "likes pages"})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Flush(), pgstore.ErrClosed)

	b2, err := pgstore.Open(dir)
	require.NoError(t, err)
	defer b2.Close()
	assert.Equal(t, []string{"People", "Events"}, b2.StoreNames())

	people, err = b2.Store("People")
	require.NoError(t, err)
	age, err := people.GetFieldInt(id, "Age")
	require.NoError(t, err)
	assert.Equal(t, int64(31), age)
	bio, err := people.GetFieldStr(id, "Bio")
	require.NoError(t, err)
	assert.Equal(t, "likes pages", bio)
}

func TestCreateExisting(t *testing.T) {
	b, dir := newBase(t)
	require.NoError(t, b.Close())

	_, err := pgstore.Create(dir, nil)
	assert.ErrorIs(t, err, pgstore.ErrExists)
}

func TestOpenMissing(t *testing.T) {
	_, err := pgstore.Open(t.TempDir())
	assert.ErrorIs(t, err, pgstore.ErrNotFound)
}

func TestLocked(t *testing.T) {
	_, dir := newBase(t)

	_, err := pgstore.Open(dir)
	assert.ErrorIs(t, err, pgstore.ErrLocked)

	ro, err := pgstore.Open(dir, pgstore.WithReadOnly())
	require.NoError(t, err)
	defer ro.Close()
	assert.ErrorIs(t, ro.Flush(), pgstore.ErrReadOnly)
	_, err = ro.CreateStores([]byte(`{"name": "Other", "fields": [{"name": "X", "type": "int"}]}`))
	assert.ErrorIs(t, err, pgstore.ErrReadOnly)
}

func TestCreateStores(t *testing.T) {
	b, dir := newBase(t)

	created, err := b.CreateStores([]byte(`{"name": "Movies", "fields": [{"name": "Title", "type": "string", "primary": true}]}`))
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "Movies", created[0].Name())

	_, err = b.CreateStores([]byte(`{"name": "People", "fields": [{"name": "X", "type": "int"}]}`))
	var exists *pgstore.ErrStoreExists
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "People", exists.Name)

	_, err = b.CreateStores([]byte(`{"name": "Bad", "fields": [{"name": "X", "type": "nope"}]}`))
	assert.ErrorIs(t, err, pgstore.ErrSchema)

	_, err = b.Store("Nope")
	var unknown *pgstore.ErrUnknownStore
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Nope", unknown.Name)

	require.NoError(t, b.Close())
	b2, err := pgstore.Open(dir)
	require.NoError(t, err)
	defer b2.Close()
	assert.Equal(t, []string{"People", "Events", "Movies"}, b2.StoreNames())
}

func TestFlushAndStats(t *testing.T) {
	mc := &pgstore.BasicMetricsCollector{}
	b, _ := newBase(t, pgstore.WithMetricsCollector(mc), pgstore.WithBackgroundWorkers(2))
	addPeople(t, b, 50)

	require.NoError(t, b.Flush())
	st := b.Stats()
	require.Len(t, st.Stores, 2)
	assert.Equal(t, "People", st.Stores[0].Name)
	assert.Equal(t, uint64(50), st.Stores[0].Records)
	assert.Zero(t, st.Stores[0].Blob.DirtyPages)

	stats := mc.GetStats()
	assert.Equal(t, int64(50), stats.AddCount)
	assert.Positive(t, stats.FlushCount)

	n, err := b.PartialFlush(time.Second)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGarbageCollect(t *testing.T) {
	b, _ := newBase(t)
	events, err := b.Store("Events")
	require.NoError(t, err)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		_, err := events.AddRec(record.Value{"Kind": "tick", "At": at.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	n, err := b.GarbageCollect()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(3), events.Recs())
}

func TestFiles(t *testing.T) {
	b, dir := newBase(t)
	addPeople(t, b, 5)
	require.NoError(t, b.Flush())

	files := b.Files()
	assert.Equal(t, pgstore.StoreListName, files[0])
	assert.Contains(t, files, "People.store")
	for _, f := range files {
		assert.False(t, filepath.IsAbs(f), f)
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err, f)
	}
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	b, _ := newBase(t)
	addPeople(t, b, 200)
	people, err := b.Store("People")
	require.NoError(t, err)
	id, err := people.AddRec(record.Value{"Name": "Alice", "Age": 31})
	require.NoError(t, err)

	dst := blobstore.NewMemoryStore()
	m, err := b.Backup(ctx, dst, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", m.ID)
	assert.Len(t, m.Files, len(b.Files()))

	target := filepath.Join(t.TempDir(), "restored")
	_, err = pgstore.Restore(ctx, dst, "", target)
	require.NoError(t, err)

	r, err := pgstore.Open(target)
	require.NoError(t, err)
	defer r.Close()
	restored, err := r.Store("People")
	require.NoError(t, err)
	assert.Equal(t, uint64(201), restored.Recs())
	got, ok := restored.GetRecID("Alice")
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestBackupCorruptedRestore(t *testing.T) {
	ctx := context.Background()
	b, _ := newBase(t)
	addPeople(t, b, 20)

	dst := blobstore.NewMemoryStore()
	_, err := b.Backup(ctx, dst, "b1")
	require.NoError(t, err)
	require.True(t, dst.Corrupt("b1/People.store", 0))

	_, err = pgstore.Restore(ctx, dst, "b1", t.TempDir())
	assert.ErrorIs(t, err, pgstore.ErrCorrupted)
}

func TestRestoreIntoOpenBase(t *testing.T) {
	ctx := context.Background()
	b, dir := newBase(t)
	dst := blobstore.NewMemoryStore()
	_, err := b.Backup(ctx, dst, "b1")
	require.NoError(t, err)

	_, err = pgstore.Restore(ctx, dst, "b1", dir)
	assert.ErrorIs(t, err, pgstore.ErrLocked)
}

func TestErrorKinds(t *testing.T) {
	assert.True(t, errors.Is(pgstore.ErrReadOnly, record.ErrReadOnly))
	assert.True(t, errors.Is(pgstore.ErrClosed, record.ErrClosed))
}
