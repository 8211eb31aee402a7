package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/qminer/qminer-sub006/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore runs the behaviour every BlobStore must share.
func testStore(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	w, err := store.Create(ctx, "snap/People.main")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world, this is a test"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("x"))
	assert.Error(t, err)

	b, err := store.Open(ctx, "snap/People.main")
	require.NoError(t, err)
	assert.Equal(t, int64(27), b.Size())

	buf := make([]byte, 5)
	n, err := b.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	r, err := b.ReadRange(ctx, 13, 4)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "this", string(got))

	r, err = b.ReadRange(ctx, 25, 10)
	require.NoError(t, err)
	got, _ = io.ReadAll(r)
	assert.Equal(t, "st", string(got))

	r, err = b.ReadRange(ctx, 100, 10)
	require.NoError(t, err)
	got, _ = io.ReadAll(r)
	assert.Empty(t, got)
	require.NoError(t, b.Close())

	require.NoError(t, store.Put(ctx, "snap/People.bin000", []byte("pages")))
	require.NoError(t, store.Put(ctx, "other/LATEST", []byte("snap")))
	require.NoError(t, store.Put(ctx, "empty", nil))

	data, err := ReadAll(ctx, store, "snap/People.bin000")
	require.NoError(t, err)
	assert.Equal(t, "pages", string(data))

	data, err = ReadAll(ctx, store, "empty")
	require.NoError(t, err)
	assert.Empty(t, data)

	names, err := store.List(ctx, "snap/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snap/People.bin000", "snap/People.main"}, names)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	if cs, ok := store.(ConditionalStore); ok {
		require.NoError(t, cs.PutIfNotExists(ctx, "snap/MANIFEST", []byte("1")))
		assert.ErrorIs(t, cs.PutIfNotExists(ctx, "snap/MANIFEST", []byte("2")), ErrExists)
		data, err = ReadAll(ctx, store, "snap/MANIFEST")
		require.NoError(t, err)
		assert.Equal(t, "1", string(data))
	}

	require.NoError(t, store.Delete(ctx, "snap/People.main"))
	require.NoError(t, store.Delete(ctx, "snap/People.main"))
	_, err = store.Open(ctx, "snap/People.main")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore_MissingRoot(t *testing.T) {
	store := NewLocalStore(t.TempDir() + "/absent")
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_NamesStayUnderRoot(t *testing.T) {
	root := t.TempDir()
	store := NewLocalStore(root)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "../escape", []byte("x")))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"escape"}, names)
}

func TestLocalStore_FailedSyncLeavesNothing(t *testing.T) {
	root := t.TempDir()
	faulty := fs.NewFaultyFS(nil)
	store := NewLocalStoreFS(root, faulty)
	ctx := context.Background()

	faulty.AddRule("People.main.tmp", fs.Fault{FailAfterBytes: -1, ShortReadAt: -1, FailOnSync: true})

	w, err := store.Create(ctx, "People.main")
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Close(), fs.ErrInjected)

	faulty.ClearRules()
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryStore_Corrupt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "a", []byte{1, 2, 3}))

	assert.True(t, store.Corrupt("a", 1))
	assert.False(t, store.Corrupt("a", 3))
	assert.False(t, store.Corrupt("b", 0))

	data, err := ReadAll(ctx, store, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0xfd, 3}, data)
}
