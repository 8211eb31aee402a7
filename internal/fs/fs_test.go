package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	tmp := t.TempDir()
	lfs := LocalFS{}

	dir := filepath.Join(tmp, "subdir")
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	fpath := filepath.Join(dir, "seg.bin000")
	f, err := lfs.OpenFile(fpath, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("world"), 5)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	buf := make([]byte, 10)
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "helloworld", string(buf))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size())
	require.NoError(t, f.Close())

	matches, err := lfs.Glob(filepath.Join(dir, "seg.bin*"))
	require.NoError(t, err)
	assert.Equal(t, []string{fpath}, matches)

	renamed := filepath.Join(dir, "seg.bin001")
	require.NoError(t, lfs.Rename(fpath, renamed))
	entries, err := lfs.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, lfs.Remove(renamed))
	_, err = lfs.Stat(renamed)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFileAtomic(t *testing.T) {
	tmp := t.TempDir()
	name := filepath.Join(tmp, "store.main")

	require.NoError(t, WriteFileAtomic(Default, name, []byte("v1")))
	require.NoError(t, WriteFileAtomic(Default, name, []byte("v2")))

	data, err := ReadFile(Default, name)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	_, err = os.Stat(name + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFSWriteLimit(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("limited", Fault{FailAfterBytes: 5, ShortReadAt: -1})

	f, err := ffs.OpenFile(filepath.Join(tmp, "limited.bin"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.WriteAt([]byte("!"), 5)
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 0, n)

	// Files without a rule are passed through untouched.
	g, err := ffs.OpenFile(filepath.Join(tmp, "other.bin"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = g.WriteAt(make([]byte, 64), 0)
	assert.NoError(t, err)
	require.NoError(t, g.Close())
}

func TestFaultyFSShortRead(t *testing.T) {
	tmp := t.TempDir()
	name := filepath.Join(tmp, "short.bin")
	require.NoError(t, os.WriteFile(name, make([]byte, 100), 0o644))

	ffs := NewFaultyFS(LocalFS{})
	ffs.AddRule("short", Fault{FailAfterBytes: -1, ShortReadAt: 10})

	f, err := ffs.OpenFile(name, os.O_RDONLY, 0)
	require.NoError(t, err)
	defer f.Close()

	n, err := f.ReadAt(make([]byte, 50), 0)
	assert.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestFaultyFSSyncOpenClose(t *testing.T) {
	tmp := t.TempDir()
	ffs := NewFaultyFS(nil)
	ffs.AddRule("sync", Fault{FailAfterBytes: -1, ShortReadAt: -1, FailOnSync: true, FailOnClose: true})
	ffs.AddRule("open", Fault{FailOnOpen: true})

	f, err := ffs.OpenFile(filepath.Join(tmp, "sync.bin"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), ErrInjected)
	assert.ErrorIs(t, f.Close(), ErrInjected)

	_, err = ffs.OpenFile(filepath.Join(tmp, "open.bin"), os.O_CREATE|os.O_RDWR, 0o644)
	assert.ErrorIs(t, err, ErrInjected)

	ffs.ClearRules()
	f, err = ffs.OpenFile(filepath.Join(tmp, "open.bin"), os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
