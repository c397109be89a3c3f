package bacnet

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a thread-safe counter
type Counter struct {
	value atomic.Int64
}

// Add adds a delta to the counter
func (c *Counter) Add(delta int64) {
	c.value.Add(delta)
}

// Inc increments the counter by 1
func (c *Counter) Inc() {
	c.Add(1)
}

// Value returns the current counter value
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Reset resets the counter to 0
func (c *Counter) Reset() {
	c.value.Store(0)
}

// Gauge is a thread-safe gauge that can go up and down
type Gauge struct {
	value atomic.Int64
}

// Set sets the gauge value
func (g *Gauge) Set(value int64) {
	g.value.Store(value)
}

// Add adds a delta to the gauge
func (g *Gauge) Add(delta int64) {
	g.value.Add(delta)
}

// Value returns the current gauge value
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// latencyBounds are the upper bounds of the histogram buckets. The last
// bucket collects everything at or above the APDU timeout default.
var latencyBounds = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	3 * time.Second,
}

// LatencyHistogram tracks request round trip times
type LatencyHistogram struct {
	mu      sync.RWMutex
	count   int64
	sum     time.Duration
	min     time.Duration
	max     time.Duration
	buckets []int64
}

// NewLatencyHistogram creates a new latency histogram
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		min:     -1,
		buckets: make([]int64, len(latencyBounds)+1),
	}
}

// Record records a latency measurement
func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += d
	if h.min < 0 || d < h.min {
		h.min = d
	}
	if d > h.max {
		h.max = d
	}

	i := 0
	for i < len(latencyBounds) && d >= latencyBounds[i] {
		i++
	}
	h.buckets[i]++
}

// Stats returns histogram statistics
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := LatencyStats{
		Count:   h.count,
		Buckets: append([]int64(nil), h.buckets...),
	}
	if h.count > 0 {
		stats.Min = h.min
		stats.Max = h.max
		stats.Avg = h.sum / time.Duration(h.count)
	}
	return stats
}

// Reset resets the histogram
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count = 0
	h.sum = 0
	h.min = -1
	h.max = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}

// LatencyStats contains latency statistics
type LatencyStats struct {
	Count   int64
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	Buckets []int64
}

// Metrics holds engine and client counters. Latencies are measured on the
// engine clock, so they reflect the time fed through Advance.
type Metrics struct {
	// Client requests
	RequestsSent      Counter
	RequestsSucceeded Counter
	RequestsFailed    Counter
	RequestsTimedOut  Counter
	Retransmissions   Counter

	// Replies to client requests
	ErrorsReceived  Counter
	RejectsReceived Counter
	AbortsReceived  Counter

	// Server side
	RequestsReceived    Counter
	DuplicatesAbsorbed  Counter
	UnconfirmedReceived Counter
	AbortsSent          Counter

	// Segmentation
	SegmentsSent     Counter
	SegmentsReceived Counter

	// Untrusted input
	MalformedReceived Counter
	StrayReceived     Counter

	// Discovery
	WhoIsSent   Counter
	IAmReceived Counter

	// Transport
	BytesSent     Counter
	BytesReceived Counter

	RequestLatency *LatencyHistogram

	ActiveTransactions Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		RequestLatency: NewLatencyHistogram(),
	}
}

// Reset resets all metrics
func (m *Metrics) Reset() {
	for _, c := range m.counters() {
		c.Reset()
	}
	m.RequestLatency.Reset()
	m.ActiveTransactions.Set(0)
}

func (m *Metrics) counters() []*Counter {
	return []*Counter{
		&m.RequestsSent, &m.RequestsSucceeded, &m.RequestsFailed, &m.RequestsTimedOut,
		&m.Retransmissions, &m.ErrorsReceived, &m.RejectsReceived, &m.AbortsReceived,
		&m.RequestsReceived, &m.DuplicatesAbsorbed, &m.UnconfirmedReceived, &m.AbortsSent,
		&m.SegmentsSent, &m.SegmentsReceived, &m.MalformedReceived, &m.StrayReceived,
		&m.WhoIsSent, &m.IAmReceived, &m.BytesSent, &m.BytesReceived,
	}
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		RequestsSent:      m.RequestsSent.Value(),
		RequestsSucceeded: m.RequestsSucceeded.Value(),
		RequestsFailed:    m.RequestsFailed.Value(),
		RequestsTimedOut:  m.RequestsTimedOut.Value(),
		Retransmissions:   m.Retransmissions.Value(),

		ErrorsReceived:  m.ErrorsReceived.Value(),
		RejectsReceived: m.RejectsReceived.Value(),
		AbortsReceived:  m.AbortsReceived.Value(),

		RequestsReceived:    m.RequestsReceived.Value(),
		DuplicatesAbsorbed:  m.DuplicatesAbsorbed.Value(),
		UnconfirmedReceived: m.UnconfirmedReceived.Value(),
		AbortsSent:          m.AbortsSent.Value(),

		SegmentsSent:     m.SegmentsSent.Value(),
		SegmentsReceived: m.SegmentsReceived.Value(),

		MalformedReceived: m.MalformedReceived.Value(),
		StrayReceived:     m.StrayReceived.Value(),

		WhoIsSent:   m.WhoIsSent.Value(),
		IAmReceived: m.IAmReceived.Value(),

		BytesSent:     m.BytesSent.Value(),
		BytesReceived: m.BytesReceived.Value(),

		LatencyStats: m.RequestLatency.Stats(),

		ActiveTransactions: m.ActiveTransactions.Value(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	RequestsSent      int64
	RequestsSucceeded int64
	RequestsFailed    int64
	RequestsTimedOut  int64
	Retransmissions   int64

	ErrorsReceived  int64
	RejectsReceived int64
	AbortsReceived  int64

	RequestsReceived    int64
	DuplicatesAbsorbed  int64
	UnconfirmedReceived int64
	AbortsSent          int64

	SegmentsSent     int64
	SegmentsReceived int64

	MalformedReceived int64
	StrayReceived     int64

	WhoIsSent   int64
	IAmReceived int64

	BytesSent     int64
	BytesReceived int64

	LatencyStats LatencyStats

	ActiveTransactions int64
}
