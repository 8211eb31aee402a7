package record

import (
	"io"
	"log/slog"

	"github.com/qminer/qminer-sub006/internal/fs"
	"github.com/qminer/qminer-sub006/internal/resource"
	"github.com/qminer/qminer-sub006/pgblob"
)

// Option configures a Store.
type Option func(*options)

type options struct {
	cacheSize   int64
	indexer     Indexer
	trigger     Trigger
	logger      *slog.Logger
	blobOpts    []pgblob.Option
	serializers SerializerFactory
	fs          fs.FileSystem
	rc          *resource.Controller
	readOnly    bool
}

func defaultOptions() options {
	return options{
		cacheSize:   pgblob.DefaultCacheSize,
		indexer:     NopIndexer{},
		trigger:     NopTrigger{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		serializers: NewSerializer,
		fs:          fs.Default,
	}
}

// WithCacheSize sets the page cache budget of the store's blob engine.
func WithCacheSize(bytes int64) Option {
	return func(o *options) {
		if bytes > 0 {
			o.cacheSize = bytes
		}
	}
}

// WithIndexer sets the secondary indexer.
func WithIndexer(ix Indexer) Option {
	return func(o *options) {
		if ix != nil {
			o.indexer = ix
		}
	}
}

// WithTrigger sets the record trigger.
func WithTrigger(t Trigger) Option {
	return func(o *options) {
		if t != nil {
			o.trigger = t
		}
	}
}

// WithLogger sets the logger. It is passed on to the blob engine.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBlobOptions appends options for the blob engine. They are applied
// after the ones the store derives from its own options.
func WithBlobOptions(opts ...pgblob.Option) Option {
	return func(o *options) {
		o.blobOpts = append(o.blobOpts, opts...)
	}
}

// WithSerializerFactory replaces the default serializer.
func WithSerializerFactory(f SerializerFactory) Option {
	return func(o *options) {
		if f != nil {
			o.serializers = f
		}
	}
}

// WithFileSystem replaces the file system for all store files.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithResourceController shares rc's memory budget and I/O limiter with the
// blob engine.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithReadOnly opens the store without write access.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

func (o *options) blobOptions() []pgblob.Option {
	out := []pgblob.Option{
		pgblob.WithCacheSize(o.cacheSize),
		pgblob.WithLogger(o.logger),
		pgblob.WithFileSystem(o.fs),
		pgblob.WithResourceController(o.rc),
	}
	if o.readOnly {
		out = append(out, pgblob.WithReadOnly())
	}
	return append(out, o.blobOpts...)
}
