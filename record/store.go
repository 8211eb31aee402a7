package record

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/qminer/qminer-sub006/pgblob"
)

// NoRecID is returned when no record is identified.
const NoRecID = math.MaxUint64

// Store maps record ids to serialized records. Fields stored on disk are
// serialized into one blob per record in a pgblob.Store; memory fields are
// serialized into a buffer kept in a map and snapshotted on Flush.
//
// A Store is safe for concurrent use. Writes are serialized.
type Store struct {
	mu     sync.RWMutex
	dir    string
	schema *Schema
	opts   options
	logger *slog.Logger

	blobs *pgblob.Store
	ser   [2]Serializer
	books *Codebooks
	toast toaster

	ids      *roaring64.Bitmap
	ptrs     map[uint64]pgblob.Pointer
	mem      map[uint64][]byte
	memBytes int64
	nextID   uint64
	pk       primaryIndex

	closed bool
}

// CatalogName returns the name of the catalog file of store name in dir.
func CatalogName(dir, name string) string { return filepath.Join(dir, name+".store") }

// MemName returns the name of the memory snapshot of store name in dir.
func MemName(dir, name string) string { return filepath.Join(dir, name+".mem") }

// BlobBase returns the base name of the blob files of store name in dir.
func BlobBase(dir, name string) string { return filepath.Join(dir, name) }

func newStore(dir string, schema *Schema, o options) (*Store, error) {
	s := &Store{
		dir:    dir,
		schema: schema,
		opts:   o,
		logger: o.logger.With("store", schema.Name),
		books:  newCodebooks(),
		ids:    roaring64.New(),
		ptrs:   make(map[uint64]pgblob.Pointer),
		mem:    make(map[uint64][]byte),
	}
	s.toast = toaster{s}
	for _, loc := range []FieldLocation{Disk, Memory} {
		if schema.HasLocation(loc) {
			s.ser[loc] = o.serializers(schema, loc, s.books)
		}
	}
	if pf, ok := schema.Primary(); ok {
		pk, err := newPrimaryIndex(pf.Kind)
		if err != nil {
			return nil, err
		}
		s.pk = pk
	}
	return s, nil
}

// Create creates an empty store for schema in dir, replacing any store of
// the same name.
func Create(dir string, schema *Schema, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.readOnly {
		return nil, ErrReadOnly
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store %s: %w", schema.Name, err)
	}
	s, err := newStore(dir, schema, o)
	if err != nil {
		return nil, err
	}
	if err := o.fs.Remove(MemName(dir, schema.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("create store %s: %w", schema.Name, err)
	}
	if s.blobs, err = pgblob.Create(BlobBase(dir, schema.Name), o.blobOptions()...); err != nil {
		return nil, fmt.Errorf("create store %s: %w", schema.Name, err)
	}
	if err := s.flushLocked(); err != nil {
		_ = s.blobs.Close()
		return nil, err
	}
	s.logger.Info("created store", "dir", dir, "fields", len(schema.Fields))
	return s, nil
}

// Open opens store name in dir.
func Open(dir, name string, opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cat, err := loadCatalog(o.fs, CatalogName(dir, name))
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}
	if cat.schema.Name != name {
		return nil, fmt.Errorf("open store %s: %w: catalog belongs to %q", name, ErrBadCatalog, cat.schema.Name)
	}
	s, err := newStore(dir, cat.schema, o)
	if err != nil {
		return nil, err
	}
	if err := s.restore(cat); err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}
	if s.ser[Memory] != nil {
		if err := s.loadMem(); err != nil {
			return nil, fmt.Errorf("open store %s: %w", name, err)
		}
	}
	if s.blobs, err = pgblob.Open(BlobBase(dir, name), o.blobOptions()...); err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}
	s.logger.Info("opened store", "dir", dir, "records", s.ids.GetCardinality())
	return s, nil
}

func (s *Store) check(write bool) error {
	if s.closed {
		return ErrClosed
	}
	if write && s.opts.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Name returns the store name.
func (s *Store) Name() string { return s.schema.Name }

// Schema returns the store schema. It must not be modified.
func (s *Store) Schema() *Schema { return s.schema }

// Files returns every file that makes up the store.
func (s *Store) Files() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files := append(s.blobs.Files(), CatalogName(s.dir, s.schema.Name))
	if s.ser[Memory] != nil {
		files = append(files, MemName(s.dir, s.schema.Name))
	}
	return files
}

func (s *Store) flushLocked() error {
	if err := s.blobs.Flush(); err != nil {
		return fmt.Errorf("flush store %s: %w", s.schema.Name, err)
	}
	if s.ser[Memory] != nil {
		if err := s.saveMem(); err != nil {
			return fmt.Errorf("flush store %s: %w", s.schema.Name, err)
		}
	}
	if err := s.saveCatalog(); err != nil {
		return fmt.Errorf("flush store %s: %w", s.schema.Name, err)
	}
	return nil
}

// Flush writes every dirty page, the memory snapshot and the catalog.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(true); err != nil {
		return err
	}
	return s.flushLocked()
}

// PartialFlush writes dirty pages for at most window and returns how many
// were written.
func (s *Store) PartialFlush(window time.Duration) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(true); err != nil {
		return 0, err
	}
	return s.blobs.PartialFlush(window)
}

// Close flushes a writable store and releases its files.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var errs []error
	if !s.opts.readOnly {
		errs = append(errs, s.flushLocked())
	}
	errs = append(errs, s.blobs.Close())
	s.closed = true
	return errors.Join(errs...)
}

// Stats describes a store.
type Stats struct {
	Name        string
	Records     uint64
	FirstRecID  uint64
	LastRecID   uint64
	NextRecID   uint64
	MemoryBytes int64
	Blob        pgblob.Stats
}

// Stats returns current statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Name:        s.schema.Name,
		Records:     s.ids.GetCardinality(),
		FirstRecID:  s.firstRecID(),
		LastRecID:   s.lastRecID(),
		NextRecID:   s.nextID,
		MemoryBytes: s.memBytes,
		Blob:        s.blobs.Stats(),
	}
}

// checkValue validates every field of v without storing anything.
func (s *Store) checkValue(v Value) error {
	for name, raw := range v {
		if strings.HasPrefix(name, "$") {
			continue
		}
		f, ok := s.schema.Field(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		if raw == nil {
			if !f.Nullable {
				return fmt.Errorf("%w: %s", ErrNotNullable, name)
			}
			continue
		}
		if _, err := normalize(f.Kind, raw); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	return nil
}

// fieldValue returns the stored form of field f of record id, nil if null.
func (s *Store) fieldValue(id uint64, f *FieldDesc) (any, error) {
	if !s.ids.Contains(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRecord, id)
	}
	ser := s.ser[f.Location]
	if f.Location == Memory {
		return ser.Field(s.mem[id], f.ID, nil)
	}
	ptr := s.ptrs[id]
	if ser.IsInFixedPart(f.ID) {
		var out any
		err := s.blobs.View(ptr, func(b []byte) error {
			var err error
			out, err = ser.Field(b, f.ID, nil)
			return err
		})
		return out, err
	}
	buf, err := s.blobs.Get(ptr)
	if err != nil {
		return nil, err
	}
	return ser.Field(buf, f.ID, s.toast)
}

// part returns the serialized buffer of record id at loc. Memory buffers
// are shared and must not be modified.
func (s *Store) part(id uint64, loc FieldLocation) ([]byte, error) {
	if loc == Memory {
		return s.mem[id], nil
	}
	return s.blobs.Get(s.ptrs[id])
}

func (s *Store) getRec(id uint64) (Value, error) {
	if !s.ids.Contains(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRecord, id)
	}
	rec := Value{keyID: id}
	for _, loc := range []FieldLocation{Disk, Memory} {
		ser := s.ser[loc]
		if ser == nil {
			continue
		}
		buf, err := s.part(id, loc)
		if err != nil {
			return nil, err
		}
		for i := range s.schema.Fields {
			f := &s.schema.Fields[i]
			if f.Location != loc {
				continue
			}
			v, err := ser.Field(buf, f.ID, s.toast)
			if err != nil {
				return nil, fmt.Errorf("record %d field %s: %w", id, f.Name, err)
			}
			if v != nil {
				rec[f.Name] = public(f.Kind, v)
			}
		}
	}
	return rec, nil
}

// GetRec returns every non-null field of record id, plus "$id".
func (s *Store) GetRec(id uint64) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(false); err != nil {
		return nil, err
	}
	return s.getRec(id)
}

func (s *Store) indexing() bool {
	_, nop := s.opts.indexer.(NopIndexer)
	return !nop
}
