package pgblob

import (
	"io"
	"log/slog"

	"github.com/qminer/qminer-sub006/internal/fs"
	"github.com/qminer/qminer-sub006/internal/resource"
)

const (
	// DefaultCacheSize is the default page cache budget in bytes.
	DefaultCacheSize = 64 << 20
	// DefaultMaxSegmentLen is the default segment file limit in bytes.
	DefaultMaxSegmentLen = 2_000_000_000
	// DefaultResidentScan is how many recently used pages Put inspects
	// before it consults the free-space map.
	DefaultResidentScan = 5
	// ExtentPages is the number of page slots mapped at a time.
	ExtentPages = 8
)

// Option configures a Store.
type Option func(*options)

type options struct {
	cacheSize       int64
	maxSegmentPages uint32
	residentScan    int
	readOnly        bool
	logger          *slog.Logger
	fs              fs.FileSystem
	rc              *resource.Controller
	metrics         MetricsObserver
}

func defaultOptions() options {
	return options{
		cacheSize:       DefaultCacheSize,
		maxSegmentPages: DefaultMaxSegmentLen / PageSize,
		residentScan:    DefaultResidentScan,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		fs:              fs.Default,
		metrics:         NoopMetricsObserver{},
	}
}

// WithCacheSize sets the page cache budget in bytes. It is rounded down to
// whole pages and must hold at least two pages.
func WithCacheSize(bytes int64) Option {
	return func(o *options) {
		o.cacheSize = bytes
	}
}

// WithMaxSegmentPages sets how many pages one segment file may hold before a
// new segment is started.
func WithMaxSegmentPages(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSegmentPages = n
		}
	}
}

// WithResidentScan sets how many recently used pages Put inspects for free
// space. 0 disables the scan.
func WithResidentScan(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.residentScan = n
		}
	}
}

// WithReadOnly opens the store without write access.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
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

// WithFileSystem replaces the file system used for segment and main files.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithResourceController charges cache extents against rc's memory budget
// and throttles write-back through its I/O limiter.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithMetricsObserver sets the observer for cache events.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}
