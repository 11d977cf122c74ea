package infra

import (
	"sync/atomic"
	"time"
)

// latencySeries tracks min/avg/max over a stream of durations.
// All updates are atomic; min/max use CAS loops, avg is derived from
// sum and count at snapshot time. Zero min means no samples yet.
type latencySeries struct {
	minNs atomic.Int64
	maxNs atomic.Int64
	sumNs atomic.Int64
	count atomic.Uint64
}

func (l *latencySeries) record(d time.Duration) {
	ns := d.Nanoseconds()
	if ns < 0 {
		ns = 0
	}
	l.sumNs.Add(ns)
	l.count.Add(1)

	for {
		cur := l.minNs.Load()
		if cur != 0 && ns >= cur {
			break
		}
		if l.minNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := l.maxNs.Load()
		if ns <= cur {
			break
		}
		if l.maxNs.CompareAndSwap(cur, ns) {
			break
		}
	}
}

func (l *latencySeries) reset() {
	l.minNs.Store(0)
	l.maxNs.Store(0)
	l.sumNs.Store(0)
	l.count.Store(0)
}

func (l *latencySeries) snapshot() LatencyStats {
	count := l.count.Load()
	stats := LatencyStats{
		Min:   time.Duration(l.minNs.Load()),
		Max:   time.Duration(l.maxNs.Load()),
		Count: count,
	}
	if count > 0 {
		stats.Avg = time.Duration(l.sumNs.Load() / int64(count))
	}
	return stats
}

// LatencyStats is a point-in-time view of one latency series.
type LatencyStats struct {
	Min   time.Duration
	Avg   time.Duration
	Max   time.Duration
	Count uint64
}

// Metrics provides lightweight observability for the trading path.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	totalRequests    atomic.Uint64
	successfulOrders atomic.Uint64
	failedOrders     atomic.Uint64
	cancelledOrders  atomic.Uint64
	reconnectCount   atomic.Uint64
	booksReceived    atomic.Uint64
	rotations        atomic.Uint64

	// Latency series
	responseTime latencySeries // request -> exchange response
	execution    latencySeries // decision start -> place complete
	reaction     latencySeries // book arrival -> place complete

	// Uptime accounting. Downtime intervals are accumulated so the
	// uptime percentage reflects time actually connected, not the
	// number of reconnects.
	startedAtNs atomic.Int64
	downNs      atomic.Int64
	downSinceNs atomic.Int64 // 0 while connected
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// Start stamps the beginning of the uptime window.
func (m *Metrics) Start() {
	m.startedAtNs.Store(time.Now().UnixNano())
}

// RecordRequest records one exchange round trip.
func (m *Metrics) RecordRequest(rtt time.Duration) {
	m.totalRequests.Add(1)
	m.responseTime.record(rtt)
}

// RecordOrderPlaced records a successfully placed order.
func (m *Metrics) RecordOrderPlaced() {
	m.successfulOrders.Add(1)
}

// RecordOrderFailed records a rejected or failed order request.
func (m *Metrics) RecordOrderFailed() {
	m.failedOrders.Add(1)
}

// RecordOrderCancelled records a successful cancel.
func (m *Metrics) RecordOrderCancelled() {
	m.cancelledOrders.Add(1)
}

// RecordReconnect records one successful reconnection.
func (m *Metrics) RecordReconnect() {
	m.reconnectCount.Add(1)
}

// RecordBook records one received depth update.
func (m *Metrics) RecordBook() {
	m.booksReceived.Add(1)
}

// RecordRotation records one completed quote rotation with its latencies.
func (m *Metrics) RecordRotation(execution, reaction time.Duration) {
	m.rotations.Add(1)
	m.execution.record(execution)
	m.reaction.record(reaction)
}

// MarkDisconnected opens a downtime interval. Idempotent while down.
func (m *Metrics) MarkDisconnected() {
	m.downSinceNs.CompareAndSwap(0, time.Now().UnixNano())
}

// MarkConnected closes the current downtime interval, if any.
func (m *Metrics) MarkConnected() {
	since := m.downSinceNs.Swap(0)
	if since != 0 {
		m.downNs.Add(time.Now().UnixNano() - since)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TotalRequests    uint64
	SuccessfulOrders uint64
	FailedOrders     uint64
	CancelledOrders  uint64
	ReconnectCount   uint64
	BooksReceived    uint64
	Rotations        uint64
	ResponseTime     LatencyStats
	Execution        LatencyStats
	Reaction         LatencyStats
	Uptime           time.Duration
	UptimePercent    float64
	Timestamp        time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	now := time.Now()

	snap := MetricsSnapshot{
		TotalRequests:    m.totalRequests.Load(),
		SuccessfulOrders: m.successfulOrders.Load(),
		FailedOrders:     m.failedOrders.Load(),
		CancelledOrders:  m.cancelledOrders.Load(),
		ReconnectCount:   m.reconnectCount.Load(),
		BooksReceived:    m.booksReceived.Load(),
		Rotations:        m.rotations.Load(),
		ResponseTime:     m.responseTime.snapshot(),
		Execution:        m.execution.snapshot(),
		Reaction:         m.reaction.snapshot(),
		Timestamp:        now,
	}

	started := m.startedAtNs.Load()
	if started == 0 {
		return snap
	}

	elapsed := now.UnixNano() - started
	down := m.downNs.Load()
	if since := m.downSinceNs.Load(); since != 0 {
		down += now.UnixNano() - since
	}
	snap.Uptime = time.Duration(elapsed)
	if elapsed > 0 {
		snap.UptimePercent = float64(elapsed-down) / float64(elapsed) * 100
	}
	return snap
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.totalRequests.Store(0)
	m.successfulOrders.Store(0)
	m.failedOrders.Store(0)
	m.cancelledOrders.Store(0)
	m.reconnectCount.Store(0)
	m.booksReceived.Store(0)
	m.rotations.Store(0)
	m.responseTime.reset()
	m.execution.reset()
	m.reaction.reset()
	m.startedAtNs.Store(0)
	m.downNs.Store(0)
	m.downSinceNs.Store(0)
}
