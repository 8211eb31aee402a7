package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/qminer/qminer-sub006/backup"
	"github.com/qminer/qminer-sub006/blobstore"
	"github.com/qminer/qminer-sub006/codec"
	"github.com/qminer/qminer-sub006/internal/flock"
	"github.com/qminer/qminer-sub006/internal/fs"
	"github.com/qminer/qminer-sub006/internal/resource"
	"github.com/qminer/qminer-sub006/record"
	"golang.org/x/sync/errgroup"
)

const (
	// StoreListName is the file listing the stores of a base.
	StoreListName = "StoreList.json"
	lockName      = "LOCK"
)

type storeList struct {
	Stores []string `json:"stores"`
}

// Base is a directory of named record stores opened together. The store
// handles it returns stay valid until Close.
type Base struct {
	mu     sync.RWMutex
	dir    string
	opts   options
	logger *Logger
	rc     *resource.Controller
	lock   *flock.Lock
	stores map[string]*record.Store
	order  []string
	closed bool
}

func newBase(dir string, o options) *Base {
	return &Base{
		dir:    dir,
		opts:   o,
		logger: o.logger.WithDir(dir),
		rc:     resource.NewController(o.resources),
		stores: make(map[string]*record.Store),
	}
}

func (b *Base) acquireLock() error {
	lock, err := flock.Acquire(filepath.Join(b.dir, lockName))
	if err != nil {
		return translateError(err)
	}
	b.lock = lock
	return nil
}

// Create creates a base in dir with the stores defined by schemaJSON, a
// store definition or an array of them. schemaJSON may be empty.
func Create(dir string, schemaJSON []byte, opts ...Option) (*Base, error) {
	o := applyOptions(opts)
	if o.readOnly {
		return nil, ErrReadOnly
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	b := newBase(dir, o)
	if err := b.acquireLock(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(filepath.Join(dir, StoreListName)); err == nil {
		_ = b.lock.Release()
		return nil, fmt.Errorf("%w: %s", ErrExists, dir)
	}
	if err := b.saveStoreList(); err != nil {
		_ = b.lock.Release()
		return nil, err
	}
	if len(schemaJSON) > 0 {
		if _, err := b.CreateStores(schemaJSON); err != nil {
			_ = b.Close()
			_ = os.Remove(filepath.Join(dir, StoreListName))
			b.logger.LogOpen(context.Background(), true, 0, err)
			return nil, err
		}
	}
	b.logger.LogOpen(context.Background(), true, len(b.order), nil)
	return b, nil
}

// Open opens the base in dir and every store it lists.
func Open(dir string, opts ...Option) (*Base, error) {
	o := applyOptions(opts)
	data, err := fs.ReadFile(fs.Default, filepath.Join(dir, StoreListName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
		}
		return nil, err
	}
	var list storeList
	if err := codec.Default.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupted, StoreListName, err)
	}

	b := newBase(dir, o)
	if !o.readOnly {
		if err := b.acquireLock(); err != nil {
			return nil, err
		}
	}
	for _, name := range list.Stores {
		st, err := record.Open(dir, name, o.storeOptions(name, b.rc)...)
		if err != nil {
			err = translateError(err)
			_ = b.Close()
			b.logger.LogOpen(context.Background(), false, 0, err)
			return nil, err
		}
		b.stores[name] = st
		b.order = append(b.order, name)
	}
	b.logger.LogOpen(context.Background(), false, len(b.order), nil)
	return b, nil
}

func (b *Base) check(write bool) error {
	if b.closed {
		return ErrClosed
	}
	if write && b.opts.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (b *Base) saveStoreList() error {
	data, err := codec.Default.Marshal(storeList{Stores: slices.Clone(b.order)})
	if err != nil {
		return err
	}
	return fs.WriteFileAtomic(fs.Default, filepath.Join(b.dir, StoreListName), data)
}

// CreateStores creates the stores defined by schemaJSON. Either all of them
// are added or none.
func (b *Base) CreateStores(schemaJSON []byte) ([]*record.Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(true); err != nil {
		return nil, err
	}
	schemas, err := record.ParseSchemas(schemaJSON)
	if err != nil {
		return nil, err
	}
	for _, s := range schemas {
		if _, ok := b.stores[s.Name]; ok {
			return nil, &ErrStoreExists{Name: s.Name}
		}
	}

	created := make([]*record.Store, 0, len(schemas))
	for _, s := range schemas {
		st, err := record.Create(b.dir, s, b.opts.storeOptions(s.Name, b.rc)...)
		if err != nil {
			for _, c := range created {
				_ = c.Close()
			}
			return nil, translateError(err)
		}
		created = append(created, st)
	}
	for _, st := range created {
		b.stores[st.Name()] = st
		b.order = append(b.order, st.Name())
	}
	if err := b.saveStoreList(); err != nil {
		return nil, err
	}
	return created, nil
}

// Store returns the store called name.
func (b *Base) Store(name string) (*record.Store, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(false); err != nil {
		return nil, err
	}
	st, ok := b.stores[name]
	if !ok {
		return nil, &ErrUnknownStore{Name: name}
	}
	return st, nil
}

// StoreNames returns the store names in creation order.
func (b *Base) StoreNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.order)
}

// Dir returns the base directory.
func (b *Base) Dir() string { return b.dir }

// Flush flushes every store. Stores flush in parallel, bounded by the
// background worker limit.
func (b *Base) Flush() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(true); err != nil {
		return err
	}
	return b.flushLocked()
}

func (b *Base) flushLocked() error {
	start := time.Now()
	var g errgroup.Group
	g.SetLimit(b.rc.Workers())
	for _, name := range b.order {
		st := b.stores[name]
		g.Go(st.Flush)
	}
	err := translateError(g.Wait())
	b.logger.LogFlush(context.Background(), false, 0, time.Since(start), err)
	return err
}

// PartialFlush writes dirty pages of the stores in turn until window has
// elapsed and returns the number of pages written.
func (b *Base) PartialFlush(window time.Duration) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(true); err != nil {
		return 0, err
	}
	start := time.Now()
	deadline := start.Add(window)
	total := 0
	for _, name := range b.order {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		n, err := b.stores[name].PartialFlush(remaining)
		total += n
		if err != nil {
			err = translateError(err)
			b.logger.LogFlush(context.Background(), true, total, time.Since(start), err)
			return total, err
		}
	}
	b.logger.LogFlush(context.Background(), true, total, time.Since(start), nil)
	return total, nil
}

// GarbageCollect enforces the window of every store and returns how many
// records were deleted.
func (b *Base) GarbageCollect() (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(true); err != nil {
		return 0, err
	}
	total := 0
	var errs []error
	for _, name := range b.order {
		n, err := b.stores[name].GarbageCollect()
		total += n
		errs = append(errs, err)
	}
	err := translateError(errors.Join(errs...))
	b.logger.LogGarbageCollect(context.Background(), total, err)
	return total, err
}

// Stats describes a base.
type Stats struct {
	Dir         string
	Stores      []record.Stats
	MemoryUsage int64
}

// Stats returns statistics of every store.
func (b *Base) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := Stats{Dir: b.dir, MemoryUsage: b.rc.MemoryUsage()}
	if b.closed {
		return st
	}
	for _, name := range b.order {
		st.Stores = append(st.Stores, b.stores[name].Stats())
	}
	return st
}

// Files returns the files of the base relative to its directory.
func (b *Base) Files() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.filesLocked()
}

func (b *Base) filesLocked() []string {
	files := []string{StoreListName}
	for _, name := range b.order {
		for _, f := range b.stores[name].Files() {
			if rel, err := filepath.Rel(b.dir, f); err == nil {
				files = append(files, rel)
			}
		}
	}
	return files
}

// Backup flushes every store and copies the base to dst as backup id.
// Writers must be paused while Backup runs.
func (b *Base) Backup(ctx context.Context, dst blobstore.BlobStore, id string, opts ...backup.Option) (*backup.Manifest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(true); err != nil {
		return nil, err
	}
	if err := b.flushLocked(); err != nil {
		return nil, err
	}
	files := b.filesLocked()
	opts = append([]backup.Option{
		backup.WithLogger(b.logger.Logger),
		backup.WithResourceController(b.rc),
	}, opts...)
	m, err := backup.Run(ctx, b.dir, files, dst, id, opts...)
	err = translateError(err)
	b.logger.LogBackup(ctx, id, len(files), err)
	return m, err
}

// Restore writes backup id from src into dir. An empty id restores the
// latest backup. dir must not be open by a writable Base.
func Restore(ctx context.Context, src blobstore.BlobStore, id, dir string, opts ...backup.Option) (*backup.Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	lock, err := flock.Acquire(filepath.Join(dir, lockName))
	if err != nil {
		return nil, translateError(err)
	}
	defer lock.Release()
	m, err := backup.Restore(ctx, src, id, dir, opts...)
	return m, translateError(err)
}

// Close flushes and closes every store and releases the directory lock.
func (b *Base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	var errs []error
	for _, name := range b.order {
		errs = append(errs, b.stores[name].Close())
	}
	errs = append(errs, b.lock.Release())
	b.closed = true
	err := translateError(errors.Join(errs...))
	b.logger.LogClose(context.Background(), err)
	return err
}
