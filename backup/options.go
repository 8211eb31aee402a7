package backup

import (
	"io"
	"log/slog"
	"runtime"

	"github.com/qminer/qminer-sub006/internal/compress"
	"github.com/qminer/qminer-sub006/internal/fs"
	"github.com/qminer/qminer-sub006/internal/resource"
)

// Option configures Run and Restore.
type Option func(*options)

type options struct {
	compression compress.Type
	blockSize   int
	parallelism int
	rc          *resource.Controller
	logger      *slog.Logger
	fs          fs.FileSystem
}

func defaultOptions() options {
	return options{
		compression: compress.Zstd,
		blockSize:   compress.DefaultBlockSize,
		parallelism: min(runtime.GOMAXPROCS(0), 4),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		fs:          fs.Default,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCompression selects the codec for Run. Default: zstd.
func WithCompression(t compress.Type) Option {
	return func(o *options) {
		o.compression = t
	}
}

// WithBlockSize sets the uncompressed size of one compressed block.
func WithBlockSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.blockSize = n
		}
	}
}

// WithParallelism sets how many files are transferred at once.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// WithResourceController throttles file reads and writes through rc's I/O
// limiter and takes one of its background slots for the whole transfer.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFileSystem replaces the file system of the local directory.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}
