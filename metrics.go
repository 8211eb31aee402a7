package pgstore

import (
	"sync/atomic"
	"time"

	"github.com/qminer/qminer-sub006/pgblob"
	"github.com/qminer/qminer-sub006/record"
)

// MetricsCollector receives record and page cache events of every store in a
// Base. Implement it to feed a monitoring system.
type MetricsCollector interface {
	// RecordAdd is called after a record was added to store.
	RecordAdd(store string)
	// RecordUpdate is called after a record of store changed.
	RecordUpdate(store string)
	// RecordDelete is called before a record of store is removed.
	RecordDelete(store string)

	// RecordPageLoad is called when a page is read from disk.
	RecordPageLoad()
	// RecordPageEvict is called when a page leaves a cache.
	RecordPageEvict(dirty bool)
	// RecordFlush is called after a flush or partial flush of one store.
	RecordFlush(duration time.Duration, pages int, err error)
	// RecordThroughput reports bytes moved by op ("read" or "write").
	RecordThroughput(op string, bytes int64)
}

// NoopMetricsCollector ignores every event.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdd(string)                      {}
func (NoopMetricsCollector) RecordUpdate(string)                   {}
func (NoopMetricsCollector) RecordDelete(string)                   {}
func (NoopMetricsCollector) RecordPageLoad()                       {}
func (NoopMetricsCollector) RecordPageEvict(bool)                  {}
func (NoopMetricsCollector) RecordFlush(time.Duration, int, error) {}
func (NoopMetricsCollector) RecordThroughput(string, int64)        {}

// BasicMetricsCollector counts events in memory.
type BasicMetricsCollector struct {
	AddCount        atomic.Int64
	UpdateCount     atomic.Int64
	DeleteCount     atomic.Int64
	PageLoads       atomic.Int64
	PageEvictions   atomic.Int64
	DirtyEvictions  atomic.Int64
	FlushCount      atomic.Int64
	FlushErrors     atomic.Int64
	FlushTotalNanos atomic.Int64
	PagesFlushed    atomic.Int64
	BytesRead       atomic.Int64
	BytesWritten    atomic.Int64
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(string) { b.AddCount.Add(1) }

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(string) { b.UpdateCount.Add(1) }

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(string) { b.DeleteCount.Add(1) }

// RecordPageLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPageLoad() { b.PageLoads.Add(1) }

// RecordPageEvict implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPageEvict(dirty bool) {
	b.PageEvictions.Add(1)
	if dirty {
		b.DirtyEvictions.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(duration time.Duration, pages int, err error) {
	b.FlushCount.Add(1)
	b.FlushTotalNanos.Add(duration.Nanoseconds())
	b.PagesFlushed.Add(int64(pages))
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordThroughput implements MetricsCollector.
func (b *BasicMetricsCollector) RecordThroughput(op string, bytes int64) {
	switch op {
	case "read":
		b.BytesRead.Add(bytes)
	case "write":
		b.BytesWritten.Add(bytes)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddCount:       b.AddCount.Load(),
		UpdateCount:    b.UpdateCount.Load(),
		DeleteCount:    b.DeleteCount.Load(),
		PageLoads:      b.PageLoads.Load(),
		PageEvictions:  b.PageEvictions.Load(),
		DirtyEvictions: b.DirtyEvictions.Load(),
		FlushCount:     b.FlushCount.Load(),
		FlushErrors:    b.FlushErrors.Load(),
		FlushAvgNanos:  b.getAvgFlushNanos(),
		PagesFlushed:   b.PagesFlushed.Load(),
		BytesRead:      b.BytesRead.Load(),
		BytesWritten:   b.BytesWritten.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgFlushNanos() int64 {
	count := b.FlushCount.Load()
	if count == 0 {
		return 0
	}
	return b.FlushTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddCount       int64
	UpdateCount    int64
	DeleteCount    int64
	PageLoads      int64
	PageEvictions  int64
	DirtyEvictions int64
	FlushCount     int64
	FlushErrors    int64
	FlushAvgNanos  int64
	PagesFlushed   int64
	BytesRead      int64
	BytesWritten   int64
}

// cacheObserver forwards pgblob cache events to a MetricsCollector.
type cacheObserver struct {
	mc MetricsCollector
}

func (o cacheObserver) OnPageLoad()            { o.mc.RecordPageLoad() }
func (o cacheObserver) OnPageEvict(dirty bool) { o.mc.RecordPageEvict(dirty) }
func (o cacheObserver) OnFlush(d time.Duration, pages int, err error) {
	o.mc.RecordFlush(d, pages, err)
}
func (o cacheObserver) OnThroughput(op string, bytes int64) { o.mc.RecordThroughput(op, bytes) }

var _ pgblob.MetricsObserver = cacheObserver{}

// recordTrigger reports record events of one store and forwards them to the
// user's trigger.
type recordTrigger struct {
	store string
	mc    MetricsCollector
	next  record.Trigger
}

func (t recordTrigger) OnAdd(id uint64) {
	t.mc.RecordAdd(t.store)
	t.next.OnAdd(id)
}

func (t recordTrigger) OnUpdate(id uint64) {
	t.mc.RecordUpdate(t.store)
	t.next.OnUpdate(id)
}

func (t recordTrigger) OnDelete(id uint64) {
	t.mc.RecordDelete(t.store)
	t.next.OnDelete(id)
}
