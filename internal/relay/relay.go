// Package relay implements the relay layer: a node is simultaneously an
// engine speaking to remote peers and a local hub for UI clients
// connected to its loopback WebSocket endpoint. The Hub owns the
// local-client roster and the routing rules between local clients and
// remote peers; internal/api supplies the WebSocket transport via the
// Client interface below so this package stays transport-agnostic, the
// same protocol/transport separation used elsewhere in this codebase.
package relay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/relaymesh/relaymesh/internal/store"
	"github.com/relaymesh/relaymesh/internal/transfer"
)

// Client is one local UI WebSocket connection, as seen by the Hub.
type Client interface {
	Send(v any) error
}

// PeerSender delivers a frame to a remote peer's session.
type PeerSender interface {
	Send(peerID string, v any) error
}

// Device is the uniform device presentation used in roster/setup
// messages: local clients and remote peers look the same to a UI
// client.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type localClient struct {
	token       string
	displayName string
	clientUUID  string
	conn        Client
}

// SetupComplete is sent back to a client after device-setup.
type SetupComplete struct {
	Type        string   `json:"type"`
	ClientToken string   `json:"client_token"`
	Device      Device   `json:"device"`
	Devices     []Device `json:"devices"`
}

// Hub tracks local clients and routes transfers between them and
// remote peer sessions.
type Hub struct {
	logger      *slog.Logger
	localPeerID string
	st          *store.Store
	engine      *transfer.Engine
	peers       PeerSender

	mu      sync.RWMutex
	clients map[string]*localClient // client_token -> client
	online  map[string]Device       // peer_id -> device (online remote peers)
}

// NewHub constructs a relay Hub.
func NewHub(logger *slog.Logger, localPeerID string, st *store.Store, engine *transfer.Engine, peers PeerSender) *Hub {
	return &Hub{
		logger:      logger.With(slog.String("component", "relay")),
		localPeerID: localPeerID,
		st:          st,
		engine:      engine,
		peers:       peers,
		clients:     make(map[string]*localClient),
		online:      make(map[string]Device),
	}
}

func newClientToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// DeviceSetup registers a new local client and returns the message to
// send back, plus whether this setup triggered an auto-pair.
func (h *Hub) DeviceSetup(conn Client, displayName, clientUUID string) (SetupComplete, bool) {
	h.mu.Lock()

	// Reconcile by client_uuid when one is supplied, otherwise by display
	// name, reusing the existing token if this client reconnected.
	var token string
	for t, c := range h.clients {
		if clientUUID != "" && c.clientUUID == clientUUID {
			token = t
			break
		}
		if clientUUID == "" && c.displayName == displayName {
			token = t
			break
		}
	}
	if token == "" {
		token = newClientToken()
	}

	h.clients[token] = &localClient{token: token, displayName: displayName, clientUUID: clientUUID, conn: conn}

	devices := h.rosterLocked(token)
	autoPair := h.maybeAutoPairLocked()

	h.mu.Unlock()

	resp := SetupComplete{
		Type:        "setup-complete",
		ClientToken: token,
		Device:      Device{ID: token, Name: displayName},
		Devices:     devices,
	}

	h.broadcastRelayDevices()

	return resp, autoPair
}

// maybeAutoPairLocked is an auto-pair convenience: if exactly two local
// clients exist at the moment a second one completes setup, treat them
// as paired. Must be called with h.mu held.
func (h *Hub) maybeAutoPairLocked() bool {
	return len(h.clients) == 2
}

func (h *Hub) rosterLocked(excludeToken string) []Device {
	devices := make([]Device, 0, len(h.clients)+len(h.online))

	for token, c := range h.clients {
		if token == excludeToken {
			continue
		}
		devices = append(devices, Device{ID: token, Name: c.displayName})
	}

	for _, d := range h.online {
		devices = append(devices, d)
	}

	return devices
}

// DisconnectClient removes a local client from the roster.
func (h *Hub) DisconnectClient(token string) {
	h.mu.Lock()
	delete(h.clients, token)
	h.mu.Unlock()

	h.broadcastRelayDevices()
}

// PeerConnected records a remote peer as online and notifies local
// clients with a virtual device-connected event (socketId "peer:<id>").
func (h *Hub) PeerConnected(peerID, deviceName string) {
	h.mu.Lock()
	h.online[peerID] = Device{ID: peerTarget(peerID), Name: deviceName}
	clients := h.snapshotClientsLocked()
	h.mu.Unlock()

	event := map[string]any{"type": "device-connected", "socket_id": peerTarget(peerID), "name": deviceName}
	h.broadcastToClients(clients, event)
}

// PeerDisconnected removes a remote peer and notifies local clients.
func (h *Hub) PeerDisconnected(peerID string) {
	h.mu.Lock()
	delete(h.online, peerID)
	clients := h.snapshotClientsLocked()
	h.mu.Unlock()

	event := map[string]any{"type": "device-disconnected", "socket_id": peerTarget(peerID)}
	h.broadcastToClients(clients, event)
}

// originDisplayNameLocked resolves a local client token to its display
// name for a transfer snapshot, falling back to the token itself when
// the origin has already disconnected. Must be called with h.mu held.
func (h *Hub) originDisplayNameLocked(originToken string) string {
	if c, ok := h.clients[originToken]; ok {
		return c.displayName
	}
	return originToken
}

func (h *Hub) snapshotClientsLocked() []*localClient {
	out := make([]*localClient, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) broadcastToClients(clients []*localClient, v any) {
	for _, c := range clients {
		if err := c.conn.Send(v); err != nil {
			h.logger.Debug("broadcast to client failed", slog.String("token", c.token), slog.Any("error", err))
		}
	}
}

// broadcastRelayDevices sends the updated local roster to every
// connected remote peer.
func (h *Hub) broadcastRelayDevices() {
	h.mu.RLock()
	devices := make([]Device, 0, len(h.clients))
	for token, c := range h.clients {
		devices = append(devices, Device{ID: token, Name: c.displayName})
	}
	peerIDs := make([]string, 0, len(h.online))
	for id := range h.online {
		peerIDs = append(peerIDs, id)
	}
	h.mu.RUnlock()

	if h.peers == nil {
		return
	}

	msg := map[string]any{"type": "relay-devices", "devices": devices}
	for _, id := range peerIDs {
		if err := h.peers.Send(id, msg); err != nil {
			h.logger.Debug("relay-devices send failed", slog.String("peer_id", id), slog.Any("error", err))
		}
	}
}

func peerTarget(peerID string) string {
	return fmt.Sprintf("peer:%s", peerID)
}

func isPeerTarget(target string) (string, bool) {
	const prefix = "peer:"
	if len(target) > len(prefix) && target[:len(prefix)] == prefix {
		return target[len(prefix):], true
	}
	return "", false
}

// RouteFileTransfer implements the local-client file-transfer routing
// rules: route to a remote peer, a named local client, or fan out to
// every connected peer when no target is given.
func (h *Hub) RouteFileTransfer(ctx context.Context, originToken, target string, msg transfer.FileTransfer) error {
	if peerID, ok := isPeerTarget(target); ok {
		return h.routeToPeer(ctx, originToken, peerID, msg)
	}

	if target != "" {
		return h.routeToLocalClient(ctx, originToken, target, msg)
	}

	return h.fanOutToPeers(ctx, originToken, msg)
}

func (h *Hub) routeToLocalClient(ctx context.Context, originToken, targetToken string, msg transfer.FileTransfer) error {
	h.mu.RLock()
	target, ok := h.clients[targetToken]
	originName := h.originDisplayNameLocked(originToken)
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("relay: local target %s not connected", targetToken)
	}

	t := store.Transfer{
		StorageName:             msg.StorageName,
		DisplayName:              msg.DisplayName,
		Mime:                     msg.Mime,
		ByteSize:                 msg.ByteSize,
		InlineContent:            msg.InlineContent,
		IsClipboard:              msg.IsClipboard,
		ConnectionRef:            originToken,
		OriginNameSnapshot:       originName,
		DestinationNameSnapshot:  target.displayName,
	}

	if _, err := h.st.CreateTransfer(ctx, t); err != nil {
		return fmt.Errorf("relay: persist local transfer: %w", err)
	}

	return target.conn.Send(msg)
}

func (h *Hub) routeToPeer(ctx context.Context, originToken, peerID string, msg transfer.FileTransfer) error {
	h.mu.RLock()
	device, known := h.online[peerID]
	originName := h.originDisplayNameLocked(originToken)
	h.mu.RUnlock()

	destName := peerID
	if known {
		destName = device.Name
	}

	t := store.Transfer{
		StorageName:             msg.StorageName,
		DisplayName:              msg.DisplayName,
		Mime:                     msg.Mime,
		ByteSize:                 msg.ByteSize,
		InlineContent:            msg.InlineContent,
		IsClipboard:              msg.IsClipboard,
		ConnectionRef:            originToken,
		DestinationPeerID:        peerID,
		OriginNameSnapshot:       originName,
		DestinationNameSnapshot:  destName,
	}

	if _, err := h.st.CreateTransfer(ctx, t); err != nil {
		return fmt.Errorf("relay: persist peer transfer: %w", err)
	}

	if h.peers == nil {
		return fmt.Errorf("relay: no peer transport configured")
	}

	return h.peers.Send(peerID, msg)
}

func (h *Hub) fanOutToPeers(_ context.Context, _ string, msg transfer.FileTransfer) error {
	h.mu.RLock()
	peerIDs := make([]string, 0, len(h.online))
	for id := range h.online {
		peerIDs = append(peerIDs, id)
	}
	h.mu.RUnlock()

	if h.peers == nil {
		return nil
	}

	for _, id := range peerIDs {
		if err := h.peers.Send(id, msg); err != nil {
			h.logger.Debug("fan-out send failed", slog.String("peer_id", id), slog.Any("error", err))
		}
	}

	return nil
}

// HandleRelayFileTransfer implements the inbound relay-file-transfer
// routing rule: persist the transfer (origin = the peer, destination =
// the named local client), forward as file-received, and ack.
func (h *Hub) HandleRelayFileTransfer(ctx context.Context, originPeerID, targetClientID string, msg transfer.FileTransfer) error {
	h.mu.RLock()
	target, ok := h.clients[targetClientID]
	h.mu.RUnlock()

	t := store.Transfer{
		StorageName:             msg.StorageName,
		DisplayName:              msg.DisplayName,
		Mime:                     msg.Mime,
		ByteSize:                 msg.ByteSize,
		InlineContent:            msg.InlineContent,
		IsClipboard:              msg.IsClipboard,
		OriginPeerID:             originPeerID,
		DestinationNameSnapshot:  targetClientID,
	}

	if _, err := h.st.CreateTransfer(ctx, t); err != nil {
		return fmt.Errorf("relay: persist relayed transfer: %w", err)
	}

	if h.peers != nil {
		ack := map[string]any{"type": "relay-file-ack", "storage_name": msg.StorageName}
		if err := h.peers.Send(originPeerID, ack); err != nil {
			h.logger.Debug("relay-file-ack send failed", slog.String("peer_id", originPeerID), slog.Any("error", err))
		}
	}

	if !ok {
		return fmt.Errorf("relay: target client %s not connected", targetClientID)
	}

	received := map[string]any{
		"type":           "file-received",
		"storage_name":   msg.StorageName,
		"display_name":   msg.DisplayName,
		"mime":           msg.Mime,
		"byte_size":      msg.ByteSize,
		"is_clipboard":   msg.IsClipboard,
		"origin_peer_id": originPeerID,
	}

	return target.conn.Send(received)
}

// TransferReceived implements transfer.EventSink: it notifies every
// connected local client that a new transfer landed, so a UI can
// refresh its file list without polling.
func (h *Hub) TransferReceived(t store.Transfer) {
	h.mu.RLock()
	clients := h.snapshotClientsLocked()
	h.mu.RUnlock()

	event := map[string]any{
		"type":           "transfer-received",
		"id":             t.ID,
		"storage_name":   t.StorageName,
		"display_name":   t.DisplayName,
		"mime":           t.Mime,
		"byte_size":      t.ByteSize,
		"is_clipboard":   t.IsClipboard,
		"origin_peer_id": t.OriginPeerID,
	}

	h.broadcastToClients(clients, event)
}

// ForwardChunk re-chunks a chunked transfer onward to a remote peer
// rather than announcing on-disk availability, so the destination peer
// always receives actual bytes regardless of hop count.
func (h *Hub) ForwardChunk(peerID string, msg any) error {
	if h.peers == nil {
		return fmt.Errorf("relay: no peer transport configured")
	}
	return h.peers.Send(peerID, msg)
}

// Send implements transfer.Sender: it resolves a chunk-start/chunk-data/
// chunk-end target_route the same way RouteFileTransfer resolves a
// file-transfer target, dispatching to a local UI client by token or
// forwarding to a remote peer by id.
func (h *Hub) Send(destination string, v any) error {
	if peerID, ok := isPeerTarget(destination); ok {
		return h.ForwardChunk(peerID, v)
	}

	h.mu.RLock()
	target, ok := h.clients[destination]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("relay: chunk target %s not connected", destination)
	}

	return target.conn.Send(v)
}
