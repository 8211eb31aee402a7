package pgblob

import "time"

// MetricsObserver receives page cache events.
type MetricsObserver interface {
	// OnPageLoad is called when a page is read from its segment file.
	OnPageLoad()

	// OnPageEvict is called when a page leaves the cache.
	OnPageEvict(dirty bool)

	// OnFlush is called when a flush or partial flush completes.
	OnFlush(duration time.Duration, pages int, err error)

	// OnThroughput reports bytes written or read by op.
	OnThroughput(op string, bytes int64)
}

// NoopMetricsObserver ignores every event.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnPageLoad()                                          {}
func (NoopMetricsObserver) OnPageEvict(dirty bool)                               {}
func (NoopMetricsObserver) OnFlush(duration time.Duration, pages int, err error) {}
func (NoopMetricsObserver) OnThroughput(op string, bytes int64)                  {}
