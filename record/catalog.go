package record

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/qminer/qminer-sub006/codec"
	"github.com/qminer/qminer-sub006/internal/binfmt"
	"github.com/qminer/qminer-sub006/internal/compress"
	"github.com/qminer/qminer-sub006/internal/fs"
	"github.com/qminer/qminer-sub006/pgblob"
)

const (
	catalogMagic   uint32 = 0x43534750 // "PGSC"
	catalogVersion uint32 = 1
	memMagic       uint32 = 0x4D534750 // "PGSM"
	memVersion     uint32 = 1
)

// catalog is a decoded catalog header; the rest of the payload is read by
// Store.restore.
type catalog struct {
	schema *Schema
	d      *binfmt.Decoder
}

// Catalog payload:
//
//	codec name, schema JSON, next id, roaring id set,
//	[count] {id, pointer}..., has-primary, [primary map], codebooks
func (s *Store) saveCatalog() error {
	schemaJSON, err := s.schema.MarshalJSON()
	if err != nil {
		return err
	}
	ids, err := s.ids.MarshalBinary()
	if err != nil {
		return err
	}
	e := binfmt.NewEncoder(make([]byte, 0, 256+len(ids)+len(s.ptrs)*12))
	e.String(codec.Default.Name())
	e.Blob(schemaJSON)
	e.Uint64(s.nextID)
	e.Blob(ids)
	e.Uvarint(uint64(len(s.ptrs)))
	for id, ptr := range s.ptrs {
		e.Uvarint(id)
		raw, _ := ptr.MarshalBinary()
		e.Raw(raw)
	}
	e.Bool(s.pk != nil)
	if s.pk != nil {
		s.pk.encode(e)
	}
	s.books.encode(e)

	data := binfmt.AppendFrame(nil, catalogMagic, catalogVersion, e.Bytes())
	return fs.WriteFileAtomic(s.opts.fs, CatalogName(s.dir, s.schema.Name), data)
}

func loadCatalog(fsys fs.FileSystem, name string) (*catalog, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}
	_, payload, err := binfmt.ReadFrame(bytes.NewReader(data), catalogMagic, catalogVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCatalog, err)
	}
	d := binfmt.NewDecoder(payload)
	codecName := d.String()
	schemaJSON := d.Blob()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCatalog, err)
	}
	if _, ok := codec.ByName(codecName); !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", ErrBadCatalog, codecName)
	}
	schema, err := ParseSchema(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCatalog, err)
	}
	return &catalog{schema: schema, d: d}, nil
}

func (s *Store) restore(cat *catalog) error {
	d := cat.d
	s.nextID = d.Uint64()
	if ids := d.Blob(); d.Err() == nil {
		if err := s.ids.UnmarshalBinary(ids); err != nil {
			return fmt.Errorf("%w: id set: %v", ErrBadCatalog, err)
		}
	}
	n := d.Uvarint()
	if n > uint64(d.Remaining()) {
		d.Fail(errors.New("pointer count exceeds payload"))
	}
	for i := uint64(0); i < n && d.Err() == nil; i++ {
		id := d.Uvarint()
		var ptr pgblob.Pointer
		if raw := d.Raw(pgblob.PointerSize); raw != nil {
			_ = ptr.UnmarshalBinary(raw)
		}
		s.ptrs[id] = ptr
	}
	if hasPK := d.Bool(); hasPK != (s.pk != nil) {
		d.Fail(errors.New("primary key map does not match schema"))
	}
	if s.pk != nil {
		s.pk.decode(d)
	}
	*s.books = *decodeCodebooks(d)
	if err := d.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadCatalog, err)
	}
	if d.Remaining() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrBadCatalog, d.Remaining())
	}
	if s.ser[Disk] != nil && uint64(len(s.ptrs)) != s.ids.GetCardinality() {
		return fmt.Errorf("%w: %d pointers for %d records", ErrBadCatalog, len(s.ptrs), s.ids.GetCardinality())
	}
	if !s.ids.IsEmpty() && s.ids.Maximum() >= s.nextID {
		return fmt.Errorf("%w: record %d beyond id counter %d", ErrBadCatalog, s.ids.Maximum(), s.nextID)
	}
	return nil
}

// saveMem writes the memory buffers as a zstd-compressed, checksummed
// snapshot: [count] {id, buffer}...
func (s *Store) saveMem() error {
	e := binfmt.NewEncoder(make([]byte, 0, s.memBytes+int64(len(s.mem))*8+16))
	e.Uvarint(uint64(len(s.mem)))
	for id, buf := range s.mem {
		e.Uvarint(id)
		e.Blob(buf)
	}
	frame := binfmt.AppendFrame(nil, memMagic, memVersion, e.Bytes())
	data, err := compress.Encode(frame, compress.Zstd, 0)
	if err != nil {
		return err
	}
	return fs.WriteFileAtomic(s.opts.fs, MemName(s.dir, s.schema.Name), data)
}

func (s *Store) loadMem() error {
	data, err := fs.ReadFile(s.opts.fs, MemName(s.dir, s.schema.Name))
	if errors.Is(err, os.ErrNotExist) && s.ids.IsEmpty() {
		return nil
	}
	if err != nil {
		return err
	}
	raw, err := compress.Decode(data, compress.Zstd)
	if err != nil {
		return fmt.Errorf("%w: memory snapshot: %v", ErrBadCatalog, err)
	}
	_, payload, err := binfmt.ReadFrame(bytes.NewReader(raw), memMagic, memVersion)
	if err != nil {
		return fmt.Errorf("%w: memory snapshot: %v", ErrBadCatalog, err)
	}
	d := binfmt.NewDecoder(payload)
	n := d.Uvarint()
	if n > uint64(d.Remaining()) {
		d.Fail(errors.New("record count exceeds payload"))
	}
	var stale int
	for i := uint64(0); i < n && d.Err() == nil; i++ {
		id := d.Uvarint()
		buf := d.Blob()
		// The snapshot is written before the catalog, so it may hold
		// records added after the last catalog that made it to disk.
		if !s.ids.Contains(id) {
			stale++
			continue
		}
		s.mem[id] = buf
		s.memBytes += int64(len(buf))
	}
	if stale > 0 {
		s.logger.Warn("dropped memory records missing from catalog", "records", stale)
	}
	if err := d.Err(); err != nil {
		return fmt.Errorf("%w: memory snapshot: %v", ErrBadCatalog, err)
	}
	if uint64(len(s.mem)) != s.ids.GetCardinality() {
		return fmt.Errorf("%w: memory snapshot holds %d of %d records", ErrBadCatalog, len(s.mem), s.ids.GetCardinality())
	}
	return nil
}
