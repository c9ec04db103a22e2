// Package engine is the daemon's coordinating glue: it wires discovery
// events into the session manager, session state transitions into the
// durable store and relay hub, and inbound wire frames into the
// transfer engine and relay hub. Nothing in this package owns protocol
// state itself; it only routes events between the packages that do,
// the same reactive-glue role a routing-protocol handler plays when it
// consumes a session manager's state-change stream.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/relaymesh/relaymesh/internal/discovery"
	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/internal/relay"
	"github.com/relaymesh/relaymesh/internal/session"
	"github.com/relaymesh/relaymesh/internal/store"
	"github.com/relaymesh/relaymesh/internal/transfer"
	"github.com/relaymesh/relaymesh/internal/wire"
)

// Coordinator dispatches session state changes and inbound frames to
// the store, transfer engine, and relay hub.
type Coordinator struct {
	logger  *slog.Logger
	st      *store.Store
	sess    *session.Manager
	xfer    *transfer.Engine
	hub     *relay.Hub
	metrics *metrics.Collector
}

// New constructs a Coordinator.
func New(logger *slog.Logger, st *store.Store, sess *session.Manager, xfer *transfer.Engine, hub *relay.Hub, collector *metrics.Collector) *Coordinator {
	return &Coordinator{
		logger:  logger.With(slog.String("component", "engine")),
		st:      st,
		sess:    sess,
		xfer:    xfer,
		hub:     hub,
		metrics: collector,
	}
}

// DiscoveryCallbacks returns the Callbacks to pass to discovery.Start:
// a newly appeared peer is upserted into the store and dialed; a
// disappeared peer is just logged, since the session layer's own read
// loop is what actually detects a dead connection.
func (c *Coordinator) DiscoveryCallbacks(ctx context.Context) discovery.Callbacks {
	return discovery.Callbacks{
		OnPeerAppeared:    func(p discovery.PeerInfo) { c.handlePeerAppeared(ctx, p) },
		OnPeerDisappeared: c.handlePeerDisappeared,
	}
}

func (c *Coordinator) handlePeerAppeared(ctx context.Context, p discovery.PeerInfo) {
	// Preserve is_online/enabled_by_user across repeat mDNS announces:
	// UpsertPeerByID overwrites the whole row, and a periodic re-announce
	// must not clobber state the session FSM already owns.
	online := false
	enabled := true
	if existing, err := c.st.GetPeer(ctx, p.PeerID); err == nil {
		online = existing.IsOnline
		enabled = existing.EnabledByUser
	}

	if err := c.st.UpsertPeerByID(ctx, store.Peer{
		PeerID:        p.PeerID,
		DisplayName:   p.DeviceName,
		LastHost:      p.Host,
		LastPort:      p.Port,
		LastSeen:      time.Now(),
		IsOnline:      online,
		EnabledByUser: enabled,
	}); err != nil {
		c.logger.Warn("upsert discovered peer failed", slog.String("peer_id", p.PeerID), slog.Any("error", err))
	}

	if !enabled {
		return
	}

	c.sess.Dial(ctx, session.PeerTarget{PeerID: p.PeerID, Host: p.Host, Port: p.Port})
}

func (c *Coordinator) handlePeerDisappeared(peerID string) {
	c.logger.Info("peer disappeared from LAN discovery", slog.String("peer_id", peerID))
}

// RunSessionEvents consumes sess.StateChanges() until ctx is cancelled,
// keeping the store's is_online flag and the relay hub's virtual
// peer-device roster in sync with the session FSM.
func (c *Coordinator) RunSessionEvents(ctx context.Context) {
	ch := c.sess.StateChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case sc, ok := <-ch:
			if !ok {
				return
			}
			c.handleStateChange(ctx, sc)
		}
	}
}

func (c *Coordinator) handleStateChange(ctx context.Context, sc session.StateChange) {
	if c.metrics != nil {
		c.metrics.RecordSessionTransition(sc.PeerID, sc.OldState.String(), sc.NewState.String())
	}

	switch sc.NewState {
	case session.StateReady:
		c.markPeerOnline(ctx, sc.PeerID)
	case session.StateClosed:
		c.markPeerOffline(ctx, sc.PeerID)
	}
}

func (c *Coordinator) markPeerOnline(ctx context.Context, peerID string) {
	snapshots := c.sess.Sessions()
	var host string
	var port int
	for _, sn := range snapshots {
		if sn.PeerID == peerID {
			host, port = sn.Host, sn.Port
			break
		}
	}

	if err := c.st.MarkPeerOnline(ctx, peerID, host, port, ""); err != nil {
		c.logger.Warn("mark peer online failed", slog.String("peer_id", peerID), slog.Any("error", err))
	}

	peer, err := c.st.GetPeer(ctx, peerID)
	deviceName := peerID
	if err == nil {
		deviceName = peer.DisplayName
	}

	c.hub.PeerConnected(peerID, deviceName)
}

func (c *Coordinator) markPeerOffline(ctx context.Context, peerID string) {
	if err := c.st.MarkPeerOffline(ctx, peerID); err != nil {
		c.logger.Warn("mark peer offline failed", slog.String("peer_id", peerID), slog.Any("error", err))
	}

	c.hub.PeerDisconnected(peerID)
}

// HandleFrame implements session.FrameHandler: it decodes msg.Raw into
// the concrete payload for msg.Type and routes it to the transfer
// engine or relay hub, sending any resulting ack back over the same
// session.
func (c *Coordinator) HandleFrame(peerID string, msg wire.Message) {
	ctx := context.Background()

	switch msg.Type {
	case transfer.TypeFileTransfer:
		var ft transfer.FileTransfer
		if err := json.Unmarshal(msg.Raw, &ft); err != nil {
			c.logger.Warn("decode file-transfer failed", slog.String("peer_id", peerID), slog.Any("error", err))
			return
		}

		if ft.Target != "" {
			if err := c.hub.HandleRelayFileTransfer(ctx, peerID, ft.Target, ft); err != nil {
				c.logger.Warn("relay file-transfer failed", slog.String("peer_id", peerID), slog.Any("error", err))
			}
			return
		}

		ack := c.xfer.HandleFileTransfer(ctx, peerID, ft)
		c.sendAck(peerID, ack)

	case transfer.TypeChunkStart:
		var cs transfer.ChunkStart
		if err := json.Unmarshal(msg.Raw, &cs); err != nil {
			c.logger.Warn("decode chunk-start failed", slog.String("peer_id", peerID), slog.Any("error", err))
			return
		}
		c.sendAck(peerID, c.xfer.HandleChunkStart(cs))

	case transfer.TypeChunkData:
		var cd transfer.ChunkData
		if err := json.Unmarshal(msg.Raw, &cd); err != nil {
			c.logger.Warn("decode chunk-data failed", slog.String("peer_id", peerID), slog.Any("error", err))
			return
		}
		c.sendAck(peerID, c.xfer.HandleChunkData(cd))

	case transfer.TypeChunkEnd:
		var ce transfer.ChunkEnd
		if err := json.Unmarshal(msg.Raw, &ce); err != nil {
			c.logger.Warn("decode chunk-end failed", slog.String("peer_id", peerID), slog.Any("error", err))
			return
		}
		c.sendAck(peerID, c.xfer.HandleChunkEnd(ctx, peerID, ce))

	default:
		c.logger.Debug("unhandled peer frame type", slog.String("peer_id", peerID), slog.String("type", msg.Type))
	}
}

func (c *Coordinator) sendAck(peerID string, ack any) {
	if err := c.sess.Send(peerID, ack); err != nil {
		c.logger.Debug("send ack failed", slog.String("peer_id", peerID), slog.Any("error", err))
	}
}
