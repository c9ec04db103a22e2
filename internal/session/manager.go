// Package session implements the peer session manager: one logical
// session per peer_id, a two-message handshake, jittered auto-dial, and
// the min(peer_id) tiebreak for simultaneous dials.
//
// Follows the map[key]*sessionEntry + sync.RWMutex layout common to
// this codebase's other connection managers: the
// checkDuplicate-under-RLock then registerAndStart-under-Lock pattern
// to avoid duplicate-registration races, the fan-out StateChanges()
// channel with non-blocking sends, and ReconcileSessions' diff-desired-
// vs-current shape, all keyed here by relay peer_ids.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/relaymesh/relaymesh/internal/wire"
)

// Sentinel errors.
var (
	// ErrSessionNotFound indicates no session exists for the given peer id.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrDuplicateSession indicates a session for this peer id already exists.
	ErrDuplicateSession = errors.New("session: duplicate for peer")
)

const (
	minDialJitter = 500 * time.Millisecond
	maxDialJitter = 2000 * time.Millisecond
	dialTimeout   = 5 * time.Second
)

// PeerTarget describes a dialable peer for ReconcileSessions / auto-dial.
type PeerTarget struct {
	PeerID string
	Host   string
	Port   int
}

// StateChange is emitted on the Manager's fan-out channel whenever a
// session's FSM state changes.
type StateChange struct {
	PeerID   string
	OldState State
	NewState State
}

// FrameHandler receives application frames from ready sessions. The
// transfer engine and relay layer register themselves here instead of
// reading the connection directly.
type FrameHandler interface {
	HandleFrame(peerID string, msg wire.Message)
}

type sessionEntry struct {
	peerID  string
	conn    net.Conn
	state   State
	inbound bool
	host    string
	port    int

	writeMu sync.Mutex
	enc     *wire.Encoder

	cancel context.CancelFunc
}

// Manager owns every active peer session.
type Manager struct {
	logger      *slog.Logger
	localPeerID string
	deviceName  string

	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	handler FrameHandler

	notifyMu sync.Mutex
	notify   chan StateChange
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithFrameHandler registers the consumer of decoded application frames.
func WithFrameHandler(h FrameHandler) ManagerOption {
	return func(m *Manager) { m.handler = h }
}

// NewManager constructs a Manager for the local node identified by
// localPeerID.
func NewManager(logger *slog.Logger, localPeerID, deviceName string, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:      logger.With(slog.String("component", "session")),
		localPeerID: localPeerID,
		deviceName:  deviceName,
		sessions:    make(map[string]*sessionEntry),
		notify:      make(chan StateChange, 64),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// StateChanges returns the channel state transitions are published on.
// Sends never block the session goroutine: a full channel drops the
// newest notification and logs a warning rather than stalling the FSM.
func (m *Manager) StateChanges() <-chan StateChange {
	return m.notify
}

func (m *Manager) publish(sc StateChange) {
	select {
	case m.notify <- sc:
	default:
		m.logger.Warn("state change notification channel full, dropping", slog.String("peer_id", sc.PeerID))
	}
}

// Snapshot describes one session for external consumption (API/CLI).
type Snapshot struct {
	PeerID  string
	State   State
	Host    string
	Port    int
	Inbound bool
}

// Sessions returns a point-in-time snapshot of every active session.
func (m *Manager) Sessions() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, Snapshot{PeerID: e.peerID, State: e.state, Host: e.host, Port: e.port, Inbound: e.inbound})
	}

	return out
}

// Send encodes and writes v as one frame on the named peer's session.
// Returns ErrSessionNotFound if no session exists, and an error if the
// session is not yet Ready.
func (m *Manager) Send(peerID string, v any) error {
	m.mu.RLock()
	e, ok := m.sessions[peerID]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("send to %s: %w", peerID, ErrSessionNotFound)
	}

	if e.state != StateReady {
		return fmt.Errorf("send to %s: session state is %s, not ready", peerID, e.state)
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.enc.Encode(v); err != nil {
		return fmt.Errorf("send to %s: %w", peerID, err)
	}

	return nil
}

// Dial starts an outbound connection to target, applying a jittered
// 500-2000ms auto-dial delay before attempting the TCP connect. If a
// session already exists for the peer, Dial is a no-op.
func (m *Manager) Dial(ctx context.Context, target PeerTarget) {
	if m.hasSession(target.PeerID) {
		return
	}

	jitter := minDialJitter + time.Duration(rand.Int64N(int64(maxDialJitter-minDialJitter)))

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter):
		}

		// Re-check after the jitter sleep: a concurrent inbound accept or
		// a previous Dial call may have created the session already.
		if m.hasSession(target.PeerID) {
			return
		}

		if err := m.dialNow(ctx, target); err != nil {
			m.logger.Warn("dial failed", slog.String("peer_id", target.PeerID), slog.Any("error", err))
		}
	}()
}

func (m *Manager) hasSession(peerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.sessions[peerID]
	return ok
}

func (m *Manager) dialNow(ctx context.Context, target PeerTarget) error {
	dialer := net.Dialer{Timeout: dialTimeout}

	addr := fmt.Sprintf("%s:%d", target.Host, target.Port)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	return m.registerAndStart(ctx, target.PeerID, target.Host, target.Port, conn, false)
}

// Accept takes ownership of an inbound connection. The peer id is not
// known until the handshake frame arrives, so Accept returns at once and
// a goroutine reads that first frame (which must be a peer-handshake),
// applies the simultaneous-dial tiebreak, and only then registers the
// session.
func (m *Manager) Accept(ctx context.Context, conn net.Conn) {
	go m.runAnonymousInbound(ctx, conn)
}

func (m *Manager) runAnonymousInbound(ctx context.Context, conn net.Conn) {
	dec := wire.NewDecoder(conn)

	var hs handshakeMsg
	if err := dec.Decode(&hs); err != nil {
		m.logger.Warn("inbound handshake decode failed", slog.Any("error", err))
		conn.Close()
		return
	}

	if hs.Type != msgTypeHandshake {
		m.logger.Warn("inbound first frame was not a handshake", slog.String("type", hs.Type))
		conn.Close()
		return
	}

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	if err := m.admitInbound(ctx, hs.PeerID, hs.DeviceName, host, hs.ListenPort, conn, dec); err != nil {
		m.logger.Warn("inbound session rejected", slog.String("peer_id", hs.PeerID), slog.Any("error", err))
		conn.Close()
	}
}

// admitInbound applies the min(peer_id) tiebreak when a simultaneous
// outbound dial to the same peer is already in flight.
func (m *Manager) admitInbound(ctx context.Context, peerID, deviceName, host string, port int, conn net.Conn, dec *wire.Decoder) error {
	m.mu.Lock()
	if existing, ok := m.sessions[peerID]; ok {
		if m.localPeerID < peerID {
			// We are the lexicographically smaller side: our own outbound
			// dial is authoritative, reject this inbound duplicate.
			m.mu.Unlock()
			return fmt.Errorf("admit inbound %s: %w", peerID, ErrDuplicateSession)
		}
		// We lose the tiebreak: supersede our own outbound attempt.
		existing.cancel()
		m.transitionLocked(existing, EventSuperseded)
		delete(m.sessions, peerID)
	}
	m.mu.Unlock()

	_ = deviceName // device name is surfaced to the store by the caller of OnPeerAppeared, not tracked per-session here

	return m.registerAndStartWithDecoder(ctx, peerID, host, port, conn, true, dec)
}

func (m *Manager) registerAndStart(ctx context.Context, peerID, host string, port int, conn net.Conn, inbound bool) error {
	return m.registerAndStartWithDecoder(ctx, peerID, host, port, conn, inbound, wire.NewDecoder(conn))
}

func (m *Manager) registerAndStartWithDecoder(ctx context.Context, peerID, host string, port int, conn net.Conn, inbound bool, dec *wire.Decoder) error {
	m.mu.Lock()
	if _, exists := m.sessions[peerID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("register %s: %w", peerID, ErrDuplicateSession)
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &sessionEntry{
		peerID:  peerID,
		conn:    conn,
		state:   StateConnecting,
		inbound: inbound,
		host:    host,
		port:    port,
		enc:     wire.NewEncoder(conn),
		cancel:  cancel,
	}
	m.sessions[peerID] = e
	m.mu.Unlock()

	m.logger.Info("session created", slog.String("peer_id", peerID), slog.Bool("inbound", inbound))

	event := EventDialSucceeded
	if inbound {
		event = EventAccepted
	}
	m.transition(e, event)

	if inbound {
		// We already consumed the handshake frame to learn the peer id;
		// acknowledge it now that the entry is registered.
		if err := m.sendHandshake(e, true); err != nil {
			m.transition(e, EventError)
			return err
		}
		m.transition(e, EventHandshakeAckRecv)
	} else {
		if err := m.sendHandshake(e, false); err != nil {
			m.transition(e, EventError)
			return err
		}
		m.transition(e, EventHandshakeSent)
	}

	go m.readLoop(sessionCtx, e, dec)

	return nil
}

const msgTypeHandshake = "peer-handshake"
const msgTypeHandshakeAck = "peer-handshake-ack"

type handshakeMsg struct {
	Type       string `json:"type"`
	PeerID     string `json:"peer_id"`
	DeviceName string `json:"device_name"`
	ListenPort int    `json:"listen_port"`
}

func (m *Manager) sendHandshake(e *sessionEntry, isAck bool) error {
	msg := handshakeMsg{Type: msgTypeHandshake, PeerID: m.localPeerID, DeviceName: m.deviceName}
	if isAck {
		msg.Type = msgTypeHandshakeAck
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.enc.Encode(msg); err != nil {
		return fmt.Errorf("send handshake to %s: %w", e.peerID, err)
	}

	return nil
}

// readLoop decodes frames for the lifetime of a session. For outbound
// sessions, the first frame must be the handshake ack; afterwards, and
// for every frame of an inbound session past the initial handshake, the
// frame is dispatched to the registered FrameHandler.
func (m *Manager) readLoop(ctx context.Context, e *sessionEntry, dec *wire.Decoder) {
	defer func() {
		e.conn.Close()
		m.mu.Lock()
		delete(m.sessions, e.peerID)
		m.mu.Unlock()
		m.transition(e, EventClosed)
	}()

	if !e.inbound {
		var ack handshakeMsg
		if err := dec.Decode(&ack); err != nil {
			m.logger.Warn("handshake ack decode failed", slog.String("peer_id", e.peerID), slog.Any("error", err))
			m.transition(e, EventError)
			return
		}
		if ack.Type != msgTypeHandshakeAck {
			m.logger.Warn("expected handshake ack", slog.String("peer_id", e.peerID), slog.String("got", ack.Type))
			m.transition(e, EventError)
			return
		}
		m.transition(e, EventHandshakeAckRecv)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := dec.DecodeMessage()
		if err != nil {
			m.logger.Debug("session read ended", slog.String("peer_id", e.peerID), slog.Any("error", err))
			m.transition(e, EventError)
			return
		}

		if m.handler != nil {
			m.handler.HandleFrame(e.peerID, msg)
		}
	}
}

func (m *Manager) transition(e *sessionEntry, event Event) {
	m.mu.Lock()
	m.transitionLocked(e, event)
	m.mu.Unlock()
}

func (m *Manager) transitionLocked(e *sessionEntry, event Event) {
	result := ApplyEvent(e.state, event)
	if !result.Changed {
		return
	}

	old := e.state
	e.state = result.NewState

	for _, action := range result.Actions {
		if action == ActionCloseConn {
			e.conn.Close()
		}
	}

	m.publish(StateChange{PeerID: e.peerID, OldState: old, NewState: result.NewState})
}

// DestroySession gracefully tears down the session for peerID, if any.
func (m *Manager) DestroySession(peerID string) error {
	m.mu.Lock()
	e, ok := m.sessions[peerID]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("destroy %s: %w", peerID, ErrSessionNotFound)
	}

	m.transition(e, EventCloseRequested)
	e.cancel()

	return nil
}

// ReconcileSessions diffs desired peer targets against the sessions
// currently tracked and dials any that are missing. It never destroys a
// ready session on its own — peer disappearance is handled by the
// discovery/session-timeout path, not by reconciliation, since a
// temporarily-unreachable peer should not be torn down just because it
// briefly dropped out of a desired-target list.
func (m *Manager) ReconcileSessions(ctx context.Context, desired []PeerTarget) error {
	var errs []error

	for _, target := range desired {
		if target.PeerID == m.localPeerID {
			continue
		}
		m.Dial(ctx, target)
	}

	return errors.Join(errs...)
}

// DrainAllSessions requests a graceful close of every session and waits
// up to timeout for their read loops to exit before returning.
func (m *Manager) DrainAllSessions(timeout time.Duration) {
	m.mu.RLock()
	peerIDs := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		peerIDs = append(peerIDs, id)
	}
	m.mu.RUnlock()

	for _, id := range peerIDs {
		_ = m.DestroySession(id)
	}

	deadline := time.After(timeout)
	for {
		m.mu.RLock()
		n := len(m.sessions)
		m.mu.RUnlock()

		if n == 0 {
			return
		}

		select {
		case <-deadline:
			m.logger.Warn("drain timeout reached with sessions still open", slog.Int("remaining", n))
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Close tears down every session without waiting for graceful drain.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.sessions {
		e.cancel()
		e.conn.Close()
	}
	m.sessions = make(map[string]*sessionEntry)

	return nil
}
