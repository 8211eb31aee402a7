package pgstore

import (
	"log/slog"

	"github.com/qminer/qminer-sub006/internal/resource"
	"github.com/qminer/qminer-sub006/pgblob"
	"github.com/qminer/qminer-sub006/record"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	cacheSize        int64
	storeCacheSize   map[string]int64
	resources        resource.Config
	readOnly         bool
	indexers         map[string]record.Indexer
	triggers         map[string]record.Trigger
}

// Option configures Create and Open.
type Option func(*options)

// WithLogger sets the logger shared by every store.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel replaces the logger with a text logger at level.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector sets the collector for record and cache events.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metricsCollector = mc
		}
	}
}

// WithCacheSize sets the default page cache budget of each store.
func WithCacheSize(bytes int64) Option {
	return func(o *options) {
		o.cacheSize = bytes
	}
}

// WithStoreCacheSize overrides the page cache budget of one store.
func WithStoreCacheSize(name string, bytes int64) Option {
	return func(o *options) {
		o.storeCacheSize[name] = bytes
	}
}

// WithMemoryLimit caps page cache extents and memory-resident records across
// all stores. 0 tracks usage without a limit.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.resources.MemoryLimitBytes = bytes
	}
}

// WithIOLimit throttles page write-back and backup streaming.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.resources.IOLimitBytesPerSec = bytesPerSec
	}
}

// WithBackgroundWorkers sets how many stores flush in parallel.
func WithBackgroundWorkers(n int) Option {
	return func(o *options) {
		o.resources.MaxBackgroundWorkers = int64(n)
	}
}

// WithReadOnly opens every store without write access and does not take the
// directory lock.
func WithReadOnly() Option {
	return func(o *options) {
		o.readOnly = true
	}
}

// WithIndexer attaches an indexer to one store.
func WithIndexer(store string, ix record.Indexer) Option {
	return func(o *options) {
		o.indexers[store] = ix
	}
}

// WithTrigger attaches a trigger to one store.
func WithTrigger(store string, t record.Trigger) Option {
	return func(o *options) {
		o.triggers[store] = t
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		cacheSize:        pgblob.DefaultCacheSize,
		storeCacheSize:   make(map[string]int64),
		indexers:         make(map[string]record.Indexer),
		triggers:         make(map[string]record.Trigger),
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}

// storeOptions returns the record options for store name.
func (o *options) storeOptions(name string, rc *resource.Controller) []record.Option {
	cacheSize := o.cacheSize
	if n, ok := o.storeCacheSize[name]; ok {
		cacheSize = n
	}
	var trigger record.Trigger = record.NopTrigger{}
	if t, ok := o.triggers[name]; ok {
		trigger = t
	}
	opts := []record.Option{
		record.WithCacheSize(cacheSize),
		record.WithLogger(o.logger.Logger),
		record.WithResourceController(rc),
		record.WithTrigger(recordTrigger{store: name, mc: o.metricsCollector, next: trigger}),
		record.WithBlobOptions(pgblob.WithMetricsObserver(cacheObserver{mc: o.metricsCollector})),
	}
	if ix, ok := o.indexers[name]; ok {
		opts = append(opts, record.WithIndexer(ix))
	}
	if o.readOnly {
		opts = append(opts, record.WithReadOnly())
	}
	return opts
}
