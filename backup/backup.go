package backup

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/qminer/qminer-sub006/blobstore"
	"github.com/qminer/qminer-sub006/internal/compress"
	ihash "github.com/qminer/qminer-sub006/internal/hash"
	"github.com/qminer/qminer-sub006/internal/resource"
	"golang.org/x/sync/errgroup"
)

const (
	// ManifestName is the last object written inside a backup.
	ManifestName = "MANIFEST"
	// PointerName holds the id of the latest complete backup.
	PointerName = "LATEST"
)

var (
	// ErrExists is returned by Run when a backup with the id is complete.
	ErrExists = errors.New("backup: backup already exists")
	// ErrNoBackup is returned when the store holds no complete backup.
	ErrNoBackup = errors.New("backup: no backup")
	// ErrChecksum is returned when restored data does not match the manifest.
	ErrChecksum = errors.New("backup: checksum mismatch")
	// ErrInvalidID is returned for ids that cannot be used as an object prefix.
	ErrInvalidID = errors.New("backup: invalid id")
)

func checkID(id string) error {
	if id == "" || id == PointerName || strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func objectName(id, file string) string { return path.Join(id, file) }

// aborter is implemented by streaming uploads that can be cancelled without
// publishing a partial object.
type aborter interface {
	Abort() error
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Run copies files (names relative to dir) to dst under id and publishes the
// backup by writing its manifest and the LATEST pointer.
func Run(ctx context.Context, dir string, files []string, dst blobstore.BlobStore, id string, opts ...Option) (*Manifest, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	if _, err := compress.ParseType(o.compression.String()); err != nil {
		return nil, err
	}

	if b, err := dst.Open(ctx, objectName(id, ManifestName)); err == nil {
		_ = b.Close()
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	} else if !errors.Is(err, blobstore.ErrNotFound) {
		return nil, err
	}

	if err := o.rc.AcquireBackground(ctx); err != nil {
		return nil, err
	}
	defer o.rc.ReleaseBackground()

	start := time.Now()
	m := &Manifest{
		ID:          id,
		Created:     start.UTC(),
		Compression: o.compression,
		Files:       make([]File, len(files)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for i, name := range files {
		g.Go(func() error {
			f, err := uploadFile(gctx, o, filepath.Join(dir, name), dst, objectName(id, name))
			if err != nil {
				return fmt.Errorf("backup %s: %w", name, err)
			}
			f.Name = name
			m.Files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := m.encode()
	var err error
	if cs, ok := dst.(blobstore.ConditionalStore); ok {
		err = cs.PutIfNotExists(ctx, objectName(id, ManifestName), data)
		if errors.Is(err, blobstore.ErrExists) {
			err = fmt.Errorf("%w: %s", ErrExists, id)
		}
	} else {
		err = dst.Put(ctx, objectName(id, ManifestName), data)
	}
	if err != nil {
		return nil, err
	}
	if err := dst.Put(ctx, PointerName, []byte(id)); err != nil {
		return nil, err
	}

	o.logger.Info("backup complete",
		"id", id,
		"files", len(files),
		"bytes", m.Size(),
		"compression", o.compression.String(),
		"duration", time.Since(start))
	return m, nil
}

func uploadFile(ctx context.Context, o options, src string, dst blobstore.BlobStore, name string) (File, error) {
	in, err := o.fs.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return File{}, err
	}
	defer in.Close()

	w, err := dst.Create(ctx, name)
	if err != nil {
		return File{}, err
	}

	crc := ihash.NewCRC32C()
	out := &countingWriter{w: resource.NewRateLimitedWriter(ctx, w, o.rc)}
	cw := compress.NewWriter(out, o.compression, o.blockSize)

	size, err := io.Copy(cw, io.TeeReader(in, crc))
	if err == nil {
		err = cw.Close()
	}
	if err != nil {
		discard(ctx, dst, w, name)
		return File{}, err
	}
	if err := w.Close(); err != nil {
		return File{}, err
	}
	return File{Size: size, Stored: out.n, CRC32C: crc.Sum32()}, nil
}

// discard drops a half-written object.
func discard(ctx context.Context, dst blobstore.BlobStore, w blobstore.WritableBlob, name string) {
	if a, ok := w.(aborter); ok {
		_ = a.Abort()
		return
	}
	_ = w.Close()
	_ = dst.Delete(context.WithoutCancel(ctx), name)
}

// ReadManifest loads the manifest of backup id.
func ReadManifest(ctx context.Context, src blobstore.BlobStore, id string) (*Manifest, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	data, err := blobstore.ReadAll(ctx, src, objectName(id, ManifestName))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoBackup, id)
		}
		return nil, err
	}
	m, err := decodeManifest(data)
	if err != nil {
		return nil, err
	}
	if m.ID != id {
		return nil, fmt.Errorf("%w: manifest of %q stored under %q", ErrBadManifest, m.ID, id)
	}
	return m, nil
}

// Latest returns the id named by the LATEST pointer.
func Latest(ctx context.Context, src blobstore.BlobStore) (string, error) {
	data, err := blobstore.ReadAll(ctx, src, PointerName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", ErrNoBackup
		}
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if err := checkID(id); err != nil {
		return "", err
	}
	return id, nil
}

// List returns the ids of all complete backups in src, sorted.
func List(ctx context.Context, src blobstore.BlobStore) ([]string, error) {
	names, err := src.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, name := range names {
		if id, ok := strings.CutSuffix(name, "/"+ManifestName); ok && checkID(id) == nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// Restore writes the files of backup id into dir. An empty id restores the
// latest backup. Each file is written to a temporary name and renamed only
// after its size and checksum match the manifest.
func Restore(ctx context.Context, src blobstore.BlobStore, id, dir string, opts ...Option) (*Manifest, error) {
	if id == "" {
		latest, err := Latest(ctx, src)
		if err != nil {
			return nil, err
		}
		id = latest
	}
	m, err := ReadManifest(ctx, src, id)
	if err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	if err := o.rc.AcquireBackground(ctx); err != nil {
		return nil, err
	}
	defer o.rc.ReleaseBackground()

	start := time.Now()
	var (
		mu   sync.Mutex
		tmps []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for _, f := range m.Files {
		g.Go(func() error {
			tmp := filepath.Join(dir, f.Name) + ".restore"
			mu.Lock()
			tmps = append(tmps, tmp)
			mu.Unlock()
			if err := downloadFile(gctx, o, src, objectName(id, f.Name), m.Compression, f, tmp); err != nil {
				return fmt.Errorf("restore %s: %w", f.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, tmp := range tmps {
			_ = o.fs.Remove(tmp)
		}
		return nil, err
	}
	for _, f := range m.Files {
		dstPath := filepath.Join(dir, f.Name)
		if err := o.fs.Rename(dstPath+".restore", dstPath); err != nil {
			return nil, err
		}
	}

	o.logger.Info("restore complete",
		"id", id,
		"dir", dir,
		"files", len(m.Files),
		"bytes", m.Size(),
		"duration", time.Since(start))
	return m, nil
}

func downloadFile(ctx context.Context, o options, src blobstore.BlobStore, name string, t compress.Type, f File, tmp string) error {
	b, err := src.Open(ctx, name)
	if err != nil {
		return err
	}
	defer b.Close()
	if b.Size() != f.Stored {
		return fmt.Errorf("%w: stored size %d, manifest %d", ErrChecksum, b.Size(), f.Stored)
	}

	var body io.Reader = strings.NewReader("")
	if f.Stored > 0 {
		rc, err := b.ReadRange(ctx, 0, f.Stored)
		if err != nil {
			return err
		}
		defer rc.Close()
		body = rc
	}

	out, err := o.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	crc := ihash.NewCRC32C()
	n, err := io.Copy(io.MultiWriter(out, crc), compress.NewReader(resource.NewRateLimitedReader(ctx, body, o.rc), t))
	if errors.Is(err, compress.ErrCorrupt) {
		err = fmt.Errorf("%w: %s: %w", ErrChecksum, name, err)
	}
	if err == nil {
		err = verify(f, n, crc)
	}
	if err == nil {
		err = out.Sync()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func verify(f File, n int64, crc hash.Hash32) error {
	if n != f.Size {
		return fmt.Errorf("%w: %d bytes, manifest %d", ErrChecksum, n, f.Size)
	}
	if sum := crc.Sum32(); sum != f.CRC32C {
		return fmt.Errorf("%w: crc %08x, manifest %08x", ErrChecksum, sum, f.CRC32C)
	}
	return nil
}
