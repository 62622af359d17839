package abs9p

import (
	"testing"
	"time"
)

func TestMetricsRequestFamilies(t *testing.T) {
	m := NewMetricsCollector()

	m.RecordRequest(MsgTread)
	m.RecordRequest(MsgTread)
	m.RecordRequest(MsgTwrite)
	m.RecordRequest(MsgTwalk)
	m.RecordRequest(MsgTgetattr)
	m.RecordRequest(MsgTsetattr)
	m.RecordRequest(MsgTlcreate)
	m.RecordRequest(MsgTmkdir)
	m.RecordRequest(MsgTsymlink)
	m.RecordRequest(MsgTremove)
	m.RecordRequest(MsgTunlinkat)
	m.RecordRequest(MsgTreaddir)
	m.RecordRequest(MsgTflush)
	m.RecordRequest(MsgTclunk) // counts toward total only

	snap := m.Snapshot()
	if snap.TotalRequests != 14 {
		t.Errorf("TotalRequests = %d, want 14", snap.TotalRequests)
	}
	if snap.ReadRequests != 2 {
		t.Errorf("ReadRequests = %d, want 2", snap.ReadRequests)
	}
	if snap.WriteRequests != 1 {
		t.Errorf("WriteRequests = %d, want 1", snap.WriteRequests)
	}
	if snap.WalkRequests != 1 {
		t.Errorf("WalkRequests = %d, want 1", snap.WalkRequests)
	}
	if snap.GetAttrRequests != 1 {
		t.Errorf("GetAttrRequests = %d, want 1", snap.GetAttrRequests)
	}
	if snap.SetAttrRequests != 1 {
		t.Errorf("SetAttrRequests = %d, want 1", snap.SetAttrRequests)
	}
	if snap.CreateRequests != 3 {
		t.Errorf("CreateRequests = %d, want 3", snap.CreateRequests)
	}
	if snap.RemoveRequests != 2 {
		t.Errorf("RemoveRequests = %d, want 2", snap.RemoveRequests)
	}
	if snap.ReaddirRequests != 1 {
		t.Errorf("ReaddirRequests = %d, want 1", snap.ReaddirRequests)
	}
	if snap.FlushRequests != 1 {
		t.Errorf("FlushRequests = %d, want 1", snap.FlushRequests)
	}
}

func TestMetricsReplyOutcomes(t *testing.T) {
	m := NewMetricsCollector()

	m.RecordErrorReply()
	m.RecordErrorReply()
	m.RecordFlushed()
	m.RecordProtocolViolation()

	snap := m.Snapshot()
	if snap.ErrorReplies != 2 {
		t.Errorf("ErrorReplies = %d, want 2", snap.ErrorReplies)
	}
	if snap.FlushedRequests != 1 {
		t.Errorf("FlushedRequests = %d, want 1", snap.FlushedRequests)
	}
	if snap.ProtocolViolations != 1 {
		t.Errorf("ProtocolViolations = %d, want 1", snap.ProtocolViolations)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetricsCollector()

	for i := 1; i <= 10; i++ {
		m.RecordRead(100, time.Duration(i)*time.Millisecond)
	}
	m.RecordWrite(50, 7*time.Millisecond)

	snap := m.Snapshot()
	if snap.BytesRead != 1000 {
		t.Errorf("BytesRead = %d, want 1000", snap.BytesRead)
	}
	if snap.BytesWritten != 50 {
		t.Errorf("BytesWritten = %d, want 50", snap.BytesWritten)
	}

	// Samples are 1..10ms: avg 5.5ms, max 10ms.
	if snap.AvgReadLatency != 5500*time.Microsecond {
		t.Errorf("AvgReadLatency = %v, want 5.5ms", snap.AvgReadLatency)
	}
	if snap.MaxReadLatency != 10*time.Millisecond {
		t.Errorf("MaxReadLatency = %v, want 10ms", snap.MaxReadLatency)
	}
	if snap.P95ReadLatency != 10*time.Millisecond {
		t.Errorf("P95ReadLatency = %v, want 10ms", snap.P95ReadLatency)
	}
	if snap.AvgWriteLatency != 7*time.Millisecond {
		t.Errorf("AvgWriteLatency = %v, want 7ms", snap.AvgWriteLatency)
	}
}

func TestMetricsLatencyWindowBounded(t *testing.T) {
	m := NewMetricsCollector()

	// Old samples age out of the window: a large early outlier must not
	// survive maxLatencySamples later recordings.
	m.RecordRead(0, time.Hour)
	for i := 0; i < m.maxLatencySamples; i++ {
		m.RecordRead(0, time.Millisecond)
	}

	snap := m.Snapshot()
	if snap.MaxReadLatency != time.Millisecond {
		t.Errorf("MaxReadLatency = %v, want 1ms after outlier aged out", snap.MaxReadLatency)
	}
}

func TestMetricsConnectionGauges(t *testing.T) {
	m := NewMetricsCollector()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.ConnectionRejected()
	m.FidsChanged(3)
	m.FidsChanged(-1)
	m.TagsChanged(1)

	snap := m.Snapshot()
	if snap.ActiveConnections != 1 {
		t.Errorf("ActiveConnections = %d, want 1", snap.ActiveConnections)
	}
	if snap.TotalConnections != 2 {
		t.Errorf("TotalConnections = %d, want 2", snap.TotalConnections)
	}
	if snap.RejectedConnections != 1 {
		t.Errorf("RejectedConnections = %d, want 1", snap.RejectedConnections)
	}
	if snap.ActiveFids != 2 {
		t.Errorf("ActiveFids = %d, want 2", snap.ActiveFids)
	}
	if snap.PendingTags != 1 {
		t.Errorf("PendingTags = %d, want 1", snap.PendingTags)
	}
	if snap.StartTime.IsZero() {
		t.Error("StartTime is zero")
	}
}

func TestMetricsNilCollector(t *testing.T) {
	var m *MetricsCollector

	// Every method must be safe on a nil collector.
	m.RecordRequest(MsgTread)
	m.RecordErrorReply()
	m.RecordFlushed()
	m.RecordProtocolViolation()
	m.RecordRead(1, time.Millisecond)
	m.RecordWrite(1, time.Millisecond)
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.ConnectionRejected()
	m.FidsChanged(1)
	m.TagsChanged(1)

	snap := m.Snapshot()
	if snap.TotalRequests != 0 {
		t.Errorf("nil collector snapshot = %+v, want zero", snap)
	}
}
