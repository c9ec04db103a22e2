package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/relaymesh/relaymesh/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.PeersKnown == nil {
		t.Error("PeersKnown is nil")
	}
	if c.PeersOnline == nil {
		t.Error("PeersOnline is nil")
	}
	if c.SessionStateTransitions == nil {
		t.Error("SessionStateTransitions is nil")
	}
	if c.TransfersCompleted == nil {
		t.Error("TransfersCompleted is nil")
	}
	if c.TransfersFailed == nil {
		t.Error("TransfersFailed is nil")
	}
	if c.BytesTransferred == nil {
		t.Error("BytesTransferred is nil")
	}
	if c.ChunkReassemblyFailures == nil {
		t.Error("ChunkReassemblyFailures is nil")
	}
	if c.DiscoveryRespawns == nil {
		t.Error("DiscoveryRespawns is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestSetPeerCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetPeerCounts(5, 3)

	if got := gaugeValue(t, c.PeersKnown); got != 5 {
		t.Errorf("PeersKnown = %v, want 5", got)
	}
	if got := gaugeValue(t, c.PeersOnline); got != 3 {
		t.Errorf("PeersOnline = %v, want 3", got)
	}
}

func TestRecordSessionTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordSessionTransition("node-b", "connecting", "handshaking")
	c.RecordSessionTransition("node-b", "connecting", "handshaking")
	c.RecordSessionTransition("node-b", "handshaking", "ready")

	if got := counterVecValue(t, c.SessionStateTransitions, "node-b", "connecting", "handshaking"); got != 2 {
		t.Errorf("connecting->handshaking = %v, want 2", got)
	}
	if got := counterVecValue(t, c.SessionStateTransitions, "node-b", "handshaking", "ready"); got != 1 {
		t.Errorf("handshaking->ready = %v, want 1", got)
	}
}

func TestRecordTransferCompletedAccumulatesBytes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordTransferCompleted(1024)
	c.RecordTransferCompleted(2048)

	if got := counterValue(t, c.TransfersCompleted); got != 2 {
		t.Errorf("TransfersCompleted = %v, want 2", got)
	}
	if got := counterValue(t, c.BytesTransferred); got != 3072 {
		t.Errorf("BytesTransferred = %v, want 3072", got)
	}
}

func TestRecordTransferFailedByReason(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordTransferFailed("chunk_error")
	c.RecordTransferFailed("chunk_error")
	c.RecordTransferFailed("storage_io_error")

	if got := counterVecValue(t, c.TransfersFailed, "chunk_error"); got != 2 {
		t.Errorf("chunk_error = %v, want 2", got)
	}
	if got := counterVecValue(t, c.TransfersFailed, "storage_io_error"); got != 1 {
		t.Errorf("storage_io_error = %v, want 1", got)
	}
}

func TestRecordChunkReassemblyFailure(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordChunkReassemblyFailure("node-b")

	if got := counterVecValue(t, c.ChunkReassemblyFailures, "node-b"); got != 1 {
		t.Errorf("ChunkReassemblyFailures(node-b) = %v, want 1", got)
	}
}

func TestRecordDiscoveryRespawn(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordDiscoveryRespawn()
	c.RecordDiscoveryRespawn()

	if got := counterValue(t, c.DiscoveryRespawns); got != 2 {
		t.Errorf("DiscoveryRespawns = %v, want 2", got)
	}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}

func counterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
