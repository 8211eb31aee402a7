package backup

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/qminer/qminer-sub006/internal/binfmt"
	"github.com/qminer/qminer-sub006/internal/compress"
)

const (
	manifestMagic   = 0x4B424750 // "PGBK"
	manifestVersion = 1
)

// ErrBadManifest is returned when a MANIFEST cannot be decoded.
var ErrBadManifest = errors.New("backup: bad manifest")

// File describes one backed-up file.
type File struct {
	Name string
	// Size is the uncompressed length.
	Size int64
	// Stored is the length of the compressed object.
	Stored int64
	// CRC32C is computed over the uncompressed bytes.
	CRC32C uint32
}

// Manifest lists the content of one backup.
type Manifest struct {
	ID          string
	Created     time.Time
	Compression compress.Type
	Files       []File
}

// Size returns the total uncompressed size.
func (m *Manifest) Size() int64 {
	var n int64
	for _, f := range m.Files {
		n += f.Size
	}
	return n
}

func (m *Manifest) encode() []byte {
	e := binfmt.NewEncoder(nil)
	e.String(m.ID)
	e.Int64(m.Created.UnixMilli())
	e.Uint8(uint8(m.Compression))
	e.Uvarint(uint64(len(m.Files)))
	for _, f := range m.Files {
		e.String(f.Name)
		e.Varint(f.Size)
		e.Varint(f.Stored)
		e.Uint32(f.CRC32C)
	}
	return binfmt.AppendFrame(nil, manifestMagic, manifestVersion, e.Bytes())
}

func decodeManifest(data []byte) (*Manifest, error) {
	_, payload, err := binfmt.ReadFrame(bytes.NewReader(data), manifestMagic, manifestVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadManifest, err)
	}
	d := binfmt.NewDecoder(payload)
	m := &Manifest{
		ID:          d.String(),
		Created:     time.UnixMilli(d.Int64()).UTC(),
		Compression: compress.Type(d.Uint8()),
	}
	n := d.Uvarint()
	if n > uint64(d.Remaining()) {
		return nil, fmt.Errorf("%w: %d files", ErrBadManifest, n)
	}
	for range n {
		m.Files = append(m.Files, File{
			Name:   d.String(),
			Size:   d.Varint(),
			Stored: d.Varint(),
			CRC32C: d.Uint32(),
		})
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadManifest, err)
	}
	if _, err := compress.ParseType(m.Compression.String()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadManifest, err)
	}
	return m, nil
}
