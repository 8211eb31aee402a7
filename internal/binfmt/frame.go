// Package binfmt provides the checksummed framing and the sticky-error
// payload buffers shared by the catalog, snapshot and backup manifest files.
//
// A frame is a 16-byte header followed by the payload:
//
//	Magic (4 bytes)
//	Version (4 bytes)
//	Checksum (4 bytes) - CRC32 (IEEE) of payload
//	PayloadLength (4 bytes)
package binfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

// HeaderSize is the size of a frame header.
const HeaderSize = 16

var (
	// ErrMagic is returned for a frame with an unexpected magic number.
	ErrMagic = errors.New("binfmt: invalid magic")
	// ErrVersion is returned for a frame newer than the reader supports.
	ErrVersion = errors.New("binfmt: unsupported version")
	// ErrChecksum is returned when the payload does not match its checksum.
	ErrChecksum = errors.New("binfmt: checksum mismatch")
	// ErrTooLarge is returned for payloads that do not fit the length field.
	ErrTooLarge = errors.New("binfmt: payload too large")
)

// WriteFrame writes a header and payload to w.
func WriteFrame(w io.Writer, magic, version uint32, payload []byte) error {
	if len(payload) > math.MaxUint32 {
		return ErrTooLarge
	}
	var header [HeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], version)
	binary.LittleEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// AppendFrame appends a header and payload to dst.
func AppendFrame(dst []byte, magic, version uint32, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, magic)
	dst = binary.LittleEndian.AppendUint32(dst, version)
	dst = binary.LittleEndian.AppendUint32(dst, crc32.ChecksumIEEE(payload))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// ReadFrame reads one frame and verifies its magic and checksum. Versions
// above maxVersion are rejected.
func ReadFrame(r io.Reader, magic, maxVersion uint32) (uint32, []byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	if m := binary.LittleEndian.Uint32(header[0:4]); m != magic {
		return 0, nil, fmt.Errorf("%w: %#x", ErrMagic, m)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version == 0 || version > maxVersion {
		return 0, nil, fmt.Errorf("%w: %d", ErrVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	if crc32.ChecksumIEEE(payload) != checksum {
		return 0, nil, ErrChecksum
	}
	return version, payload, nil
}
