package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultBlockSize is the block size used by Writer when none is given.
const DefaultBlockSize = 256 << 10

// Writer buffers writes and emits one compressed block per blockSize bytes.
type Writer struct {
	w         io.Writer
	t         Type
	blockSize int
	buf       *bytes.Buffer
	out       []byte
	written   int64
}

// NewWriter returns a Writer compressing into w.
func NewWriter(w io.Writer, t Type, blockSize int) *Writer {
	if blockSize <= 0 || blockSize > MaxBlockSize {
		blockSize = DefaultBlockSize
	}
	return &Writer{
		w:         w,
		t:         t,
		blockSize: blockSize,
		buf:       bytes.NewBuffer(make([]byte, 0, blockSize)),
	}
}

// Write buffers p, flushing full blocks.
func (c *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		space := c.blockSize - c.buf.Len()
		if space <= 0 {
			if err := c.flushBlock(); err != nil {
				return total, err
			}
			space = c.blockSize
		}
		n, _ := c.buf.Write(p[:min(len(p), space)])
		total += n
		p = p[n:]
	}
	return total, nil
}

func (c *Writer) flushBlock() error {
	if c.buf.Len() == 0 {
		return nil
	}
	var err error
	c.out, err = AppendBlock(c.out[:0], c.buf.Bytes(), c.t)
	if err != nil {
		return err
	}
	n, err := c.w.Write(c.out)
	c.written += int64(n)
	if err != nil {
		return err
	}
	c.buf.Reset()
	return nil
}

// Close flushes the last partial block. It does not close the underlying
// writer.
func (c *Writer) Close() error { return c.flushBlock() }

// BytesWritten returns the number of compressed bytes written so far.
func (c *Writer) BytesWritten() int64 { return c.written }

// Reader decompresses a block stream produced by Writer.
type Reader struct {
	r     io.Reader
	t     Type
	block []byte
	pos   int
	raw   []byte
}

// NewReader returns a Reader decompressing r.
func NewReader(r io.Reader, t Type) *Reader {
	return &Reader{r: r, t: t}
}

func (c *Reader) Read(p []byte) (int, error) {
	for c.pos >= len(c.block) {
		if err := c.next(); err != nil {
			return 0, err
		}
	}
	n := copy(p, c.block[c.pos:])
	c.pos += n
	return n, nil
}

func (c *Reader) next() error {
	var header [headerSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: short header", ErrCorrupt)
		}
		return err
	}
	rawSize := binary.LittleEndian.Uint32(header[0:])
	storedSize := binary.LittleEndian.Uint32(header[4:])
	if rawSize > MaxBlockSize || storedSize > MaxBlockSize+MaxBlockSize/8 {
		return fmt.Errorf("%w: block sizes %d/%d", ErrCorrupt, rawSize, storedSize)
	}
	n := storedSize
	if n == 0 {
		n = rawSize
	}
	if cap(c.raw) < int(n) {
		c.raw = make([]byte, n)
	}
	c.raw = c.raw[:n]
	if _, err := io.ReadFull(c.r, c.raw); err != nil {
		return fmt.Errorf("%w: truncated block: %v", ErrCorrupt, err)
	}
	if storedSize == 0 {
		c.block = c.raw
	} else {
		block, err := decompress(c.raw, int(rawSize), c.t)
		if err != nil {
			return err
		}
		c.block = block
	}
	c.pos = 0
	return nil
}
