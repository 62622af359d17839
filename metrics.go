package abs9p

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ServerMetrics is a point-in-time snapshot of server activity,
// returned by MetricsCollector.Snapshot.
type ServerMetrics struct {
	// Request counts by operation family
	TotalRequests   uint64
	ReadRequests    uint64
	WriteRequests   uint64
	WalkRequests    uint64
	GetAttrRequests uint64
	SetAttrRequests uint64
	CreateRequests  uint64
	RemoveRequests  uint64
	ReaddirRequests uint64
	FlushRequests   uint64

	// Reply outcomes
	ErrorReplies      uint64
	FlushedRequests   uint64 // requests whose reply was suppressed
	ProtocolViolations uint64 // connections torn down for fatal protocol errors

	// Payload volume
	BytesRead    uint64
	BytesWritten uint64

	// Latency over read/write backend calls
	AvgReadLatency  time.Duration
	AvgWriteLatency time.Duration
	MaxReadLatency  time.Duration
	MaxWriteLatency time.Duration
	P95ReadLatency  time.Duration
	P95WriteLatency time.Duration

	// Connection state
	ActiveConnections   int64
	TotalConnections    uint64
	RejectedConnections uint64
	ActiveFids          int64
	PendingTags         int64

	StartTime     time.Time
	UptimeSeconds int64
}

// MetricsCollector aggregates counters across all sessions of one
// server. All counter updates are atomic; latency samples are kept in
// a bounded ring under a separate mutex.
type MetricsCollector struct {
	totalRequests   atomic.Uint64
	readRequests    atomic.Uint64
	writeRequests   atomic.Uint64
	walkRequests    atomic.Uint64
	getAttrRequests atomic.Uint64
	setAttrRequests atomic.Uint64
	createRequests  atomic.Uint64
	removeRequests  atomic.Uint64
	readdirRequests atomic.Uint64
	flushRequests   atomic.Uint64

	errorReplies       atomic.Uint64
	flushedRequests    atomic.Uint64
	protocolViolations atomic.Uint64

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64

	activeConnections   atomic.Int64
	totalConnections    atomic.Uint64
	rejectedConnections atomic.Uint64
	activeFids          atomic.Int64
	pendingTags         atomic.Int64

	latencyMu         sync.Mutex
	readLatencies     []time.Duration
	writeLatencies    []time.Duration
	maxLatencySamples int

	startTime time.Time
}

// NewMetricsCollector returns a collector keeping the last 1000 read
// and write latency samples.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		maxLatencySamples: 1000,
		readLatencies:     make([]time.Duration, 0, 1000),
		writeLatencies:    make([]time.Duration, 0, 1000),
		startTime:         time.Now(),
	}
}

// RecordRequest counts one dispatched request by operation family.
func (m *MetricsCollector) RecordRequest(mt MsgType) {
	if m == nil {
		return
	}
	m.totalRequests.Add(1)

	switch mt {
	case MsgTread:
		m.readRequests.Add(1)
	case MsgTwrite:
		m.writeRequests.Add(1)
	case MsgTwalk:
		m.walkRequests.Add(1)
	case MsgTgetattr:
		m.getAttrRequests.Add(1)
	case MsgTsetattr:
		m.setAttrRequests.Add(1)
	case MsgTlcreate, MsgTmkdir, MsgTsymlink, MsgTmknod, MsgTlink:
		m.createRequests.Add(1)
	case MsgTremove, MsgTunlinkat:
		m.removeRequests.Add(1)
	case MsgTreaddir:
		m.readdirRequests.Add(1)
	case MsgTflush:
		m.flushRequests.Add(1)
	}
}

// RecordErrorReply counts one Rlerror sent.
func (m *MetricsCollector) RecordErrorReply() {
	if m == nil {
		return
	}
	m.errorReplies.Add(1)
}

// RecordFlushed counts one request whose reply was suppressed by a
// flush or session reset.
func (m *MetricsCollector) RecordFlushed() {
	if m == nil {
		return
	}
	m.flushedRequests.Add(1)
}

// RecordProtocolViolation counts one connection torn down for a fatal
// protocol error (malformed frame, duplicate tag).
func (m *MetricsCollector) RecordProtocolViolation() {
	if m == nil {
		return
	}
	m.protocolViolations.Add(1)
}

// RecordRead counts a completed read of n payload bytes taking d.
func (m *MetricsCollector) RecordRead(n int, d time.Duration) {
	if m == nil {
		return
	}
	m.bytesRead.Add(uint64(n))

	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()
	if len(m.readLatencies) >= m.maxLatencySamples {
		m.readLatencies = m.readLatencies[1:]
	}
	m.readLatencies = append(m.readLatencies, d)
}

// RecordWrite counts a completed write of n payload bytes taking d.
func (m *MetricsCollector) RecordWrite(n int, d time.Duration) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(uint64(n))

	m.latencyMu.Lock()
	defer m.latencyMu.Unlock()
	if len(m.writeLatencies) >= m.maxLatencySamples {
		m.writeLatencies = m.writeLatencies[1:]
	}
	m.writeLatencies = append(m.writeLatencies, d)
}

// ConnectionOpened records an accepted connection.
func (m *MetricsCollector) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Add(1)
	m.totalConnections.Add(1)
}

// ConnectionClosed records a finished connection.
func (m *MetricsCollector) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Add(-1)
}

// ConnectionRejected records a connection refused by the limit.
func (m *MetricsCollector) ConnectionRejected() {
	if m == nil {
		return
	}
	m.rejectedConnections.Add(1)
}

// FidsChanged adjusts the active fid gauge by delta.
func (m *MetricsCollector) FidsChanged(delta int64) {
	if m == nil {
		return
	}
	m.activeFids.Add(delta)
}

// TagsChanged adjusts the pending tag gauge by delta.
func (m *MetricsCollector) TagsChanged(delta int64) {
	if m == nil {
		return
	}
	m.pendingTags.Add(delta)
}

// latencyStats computes average, max, and p95 over a sample window.
func latencyStats(samples []time.Duration) (avg, max, p95 time.Duration) {
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	avg = total / time.Duration(len(sorted))
	max = sorted[len(sorted)-1]
	p95 = sorted[(len(sorted)*95)/100]
	return avg, max, p95
}

// Snapshot returns the current metrics.
func (m *MetricsCollector) Snapshot() ServerMetrics {
	if m == nil {
		return ServerMetrics{}
	}

	m.latencyMu.Lock()
	readAvg, readMax, readP95 := latencyStats(m.readLatencies)
	writeAvg, writeMax, writeP95 := latencyStats(m.writeLatencies)
	m.latencyMu.Unlock()

	return ServerMetrics{
		TotalRequests:   m.totalRequests.Load(),
		ReadRequests:    m.readRequests.Load(),
		WriteRequests:   m.writeRequests.Load(),
		WalkRequests:    m.walkRequests.Load(),
		GetAttrRequests: m.getAttrRequests.Load(),
		SetAttrRequests: m.setAttrRequests.Load(),
		CreateRequests:  m.createRequests.Load(),
		RemoveRequests:  m.removeRequests.Load(),
		ReaddirRequests: m.readdirRequests.Load(),
		FlushRequests:   m.flushRequests.Load(),

		ErrorReplies:       m.errorReplies.Load(),
		FlushedRequests:    m.flushedRequests.Load(),
		ProtocolViolations: m.protocolViolations.Load(),

		BytesRead:    m.bytesRead.Load(),
		BytesWritten: m.bytesWritten.Load(),

		AvgReadLatency:  readAvg,
		MaxReadLatency:  readMax,
		P95ReadLatency:  readP95,
		AvgWriteLatency: writeAvg,
		MaxWriteLatency: writeMax,
		P95WriteLatency: writeP95,

		ActiveConnections:   m.activeConnections.Load(),
		TotalConnections:    m.totalConnections.Load(),
		RejectedConnections: m.rejectedConnections.Load(),
		ActiveFids:          m.activeFids.Load(),
		PendingTags:         m.pendingTags.Load(),

		StartTime:     m.startTime,
		UptimeSeconds: int64(time.Since(m.startTime).Seconds()),
	}
}
