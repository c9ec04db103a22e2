// Package metrics wires the daemon's Prometheus surface: peer, session,
// and transfer gauges/counters exposed over the /metrics listener.
// Follows the same NewCollector/GaugeVec/CounterVec registration shape
// used elsewhere for protocol-facing collectors, rebuilt here for
// relaymesh's peer/session/transfer domain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "relaymesh"
	subsystem = "engine"
)

// Label names.
const (
	labelPeerID = "peer_id"
	labelFrom   = "from_state"
	labelTo     = "to_state"
	labelReason = "reason"
)

// Collector holds all of the daemon's Prometheus metrics.
type Collector struct {
	// PeersKnown tracks the number of peers the store currently knows
	// about (online + offline).
	PeersKnown prometheus.Gauge

	// PeersOnline tracks the number of peers with an active ready session.
	PeersOnline prometheus.Gauge

	// SessionStateTransitions counts peer session FSM transitions, labeled
	// with the old and new state.
	SessionStateTransitions *prometheus.CounterVec

	// TransfersCompleted counts finalized transfers (small or chunked).
	TransfersCompleted prometheus.Counter

	// TransfersFailed counts transfers that failed to finalize, labeled by
	// the reason (e.g. chunk_error, storage_io_error, hash_mismatch).
	TransfersFailed *prometheus.CounterVec

	// BytesTransferred sums the byte_size of every completed transfer.
	BytesTransferred prometheus.Counter

	// ChunkReassemblyFailures counts chunked transfers that aborted before
	// completion, per peer.
	ChunkReassemblyFailures *prometheus.CounterVec

	// DiscoveryRespawns counts how many times the discovery browse loop
	// crashed and was respawned.
	DiscoveryRespawns prometheus.Counter
}

// NewCollector creates a Collector with all metrics registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PeersKnown,
		c.PeersOnline,
		c.SessionStateTransitions,
		c.TransfersCompleted,
		c.TransfersFailed,
		c.BytesTransferred,
		c.ChunkReassemblyFailures,
		c.DiscoveryRespawns,
	)

	return c
}

func newMetrics() *Collector {
	transitionLabels := []string{labelPeerID, labelFrom, labelTo}
	failureLabels := []string{labelReason}
	peerLabels := []string{labelPeerID}

	return &Collector{
		PeersKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peers_known",
			Help:      "Number of peers currently recorded in the durable store.",
		}),

		PeersOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "peers_online",
			Help:      "Number of peers with a currently ready session.",
		}),

		SessionStateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "session_state_transitions_total",
			Help:      "Total peer session FSM state transitions.",
		}, transitionLabels),

		TransfersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transfers_completed_total",
			Help:      "Total transfers (small or chunked) successfully finalized.",
		}),

		TransfersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "transfers_failed_total",
			Help:      "Total transfers that failed to finalize, by reason.",
		}, failureLabels),

		BytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bytes_transferred_total",
			Help:      "Total bytes of payload across completed transfers.",
		}),

		ChunkReassemblyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "chunk_reassembly_failures_total",
			Help:      "Total chunked transfers aborted before completion, per peer.",
		}, peerLabels),

		DiscoveryRespawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "discovery_respawns_total",
			Help:      "Total times the mDNS browse loop crashed and was respawned.",
		}),
	}
}

// RecordSessionTransition increments the transition counter for peerID.
func (c *Collector) RecordSessionTransition(peerID, from, to string) {
	c.SessionStateTransitions.WithLabelValues(peerID, from, to).Inc()
}

// RecordTransferCompleted increments the completed counter and adds
// byteSize to the running total.
func (c *Collector) RecordTransferCompleted(byteSize int64) {
	c.TransfersCompleted.Inc()
	c.BytesTransferred.Add(float64(byteSize))
}

// RecordTransferFailed increments the failed counter for reason.
func (c *Collector) RecordTransferFailed(reason string) {
	c.TransfersFailed.WithLabelValues(reason).Inc()
}

// RecordChunkReassemblyFailure increments the per-peer reassembly
// failure counter.
func (c *Collector) RecordChunkReassemblyFailure(peerID string) {
	c.ChunkReassemblyFailures.WithLabelValues(peerID).Inc()
}

// RecordDiscoveryRespawn increments the discovery respawn counter.
func (c *Collector) RecordDiscoveryRespawn() {
	c.DiscoveryRespawns.Inc()
}

// SetPeerCounts updates the peers-known and peers-online gauges.
func (c *Collector) SetPeerCounts(known, online int) {
	c.PeersKnown.Set(float64(known))
	c.PeersOnline.Set(float64(online))
}
