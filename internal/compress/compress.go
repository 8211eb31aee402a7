// Package compress frames data as a sequence of independently compressed
// blocks. Each block is [RawSize uint32][StoredSize uint32][Data...]; a
// StoredSize of 0 means the block is stored raw.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type selects the compression algorithm.
type Type uint8

const (
	None Type = 0
	LZ4  Type = 1
	Zstd Type = 2
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("compress(%d)", uint8(t))
	}
}

// ParseType parses the name returned by Type.String.
func ParseType(s string) (Type, error) {
	switch s {
	case "none", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	}
	return None, fmt.Errorf("compress: unknown type %q", s)
}

const headerSize = 8

// MaxBlockSize bounds the raw size of one block.
const MaxBlockSize = 64 << 20

var (
	// ErrCorrupt is returned for malformed block headers or payloads.
	ErrCorrupt = errors.New("compress: corrupt block")

	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// AppendBlock compresses data with t and appends the framed block to dst.
// Data that does not shrink below 90% is stored raw.
func AppendBlock(dst, data []byte, t Type) ([]byte, error) {
	if len(data) > MaxBlockSize {
		return nil, fmt.Errorf("compress: block of %d bytes exceeds %d", len(data), MaxBlockSize)
	}
	var packed []byte
	switch t {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		packed = buf[:n]
	case Zstd:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("compress: unknown type %d", t)
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(data)))
	if len(packed) == 0 || float64(len(packed)) > float64(len(data))*0.9 {
		dst = binary.LittleEndian.AppendUint32(dst, 0)
		return append(dst, data...), nil
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(packed)))
	return append(dst, packed...), nil
}

// DecodeBlock decodes the block at the start of src and returns the raw
// bytes and the number of bytes of src consumed.
func DecodeBlock(src []byte, t Type) ([]byte, int, error) {
	if len(src) < headerSize {
		return nil, 0, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	rawSize := binary.LittleEndian.Uint32(src[0:])
	storedSize := binary.LittleEndian.Uint32(src[4:])
	if rawSize > MaxBlockSize {
		return nil, 0, fmt.Errorf("%w: raw size %d", ErrCorrupt, rawSize)
	}
	if storedSize == 0 {
		end := headerSize + int(rawSize)
		if len(src) < end {
			return nil, 0, fmt.Errorf("%w: truncated raw block", ErrCorrupt)
		}
		return append([]byte(nil), src[headerSize:end]...), end, nil
	}
	end := headerSize + int(storedSize)
	if len(src) < end {
		return nil, 0, fmt.Errorf("%w: truncated block", ErrCorrupt)
	}
	out, err := decompress(src[headerSize:end], int(rawSize), t)
	if err != nil {
		return nil, 0, err
	}
	return out, end, nil
}

func decompress(packed []byte, rawSize int, t Type) ([]byte, error) {
	out := make([]byte, rawSize)
	switch t {
	case LZ4:
		n, err := lz4.UncompressBlock(packed, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return out, nil
	case Zstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(packed, out[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if len(decoded) != rawSize {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: compressed block for type %s", ErrCorrupt, t)
	}
}

// Encode compresses data as a sequence of blocks of at most blockSize bytes.
func Encode(data []byte, t Type, blockSize int) ([]byte, error) {
	if blockSize <= 0 || blockSize > MaxBlockSize {
		blockSize = DefaultBlockSize
	}
	var out []byte
	for len(data) > 0 {
		n := min(len(data), blockSize)
		var err error
		if out, err = AppendBlock(out, data[:n], t); err != nil {
			return nil, err
		}
		data = data[n:]
	}
	return out, nil
}

// Decode reverses Encode.
func Decode(src []byte, t Type) ([]byte, error) {
	var out []byte
	for len(src) > 0 {
		block, n, err := DecodeBlock(src, t)
		if err != nil {
			return nil, err
		}
		out = append(out, block...)
		src = src[n:]
	}
	return out, nil
}
