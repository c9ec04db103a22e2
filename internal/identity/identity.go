// Package identity owns the node's small, mutable identity and config
// store: node id, display name, listen port, connection mode, and
// remote hub URL. Each value is persisted as a flat text file under a
// data directory, following the same read-missing-use-default,
// log-and-continue-on-failure posture the rest of this codebase uses for
// its own configuration layer (see internal/config).
//
// Per-peer enabled/disabled state lives in internal/store's peers
// table, not here: it is consulted on the same read path that
// handlePeerAppeared already queries (internal/store.Store.GetPeer),
// so there is exactly one place that decides whether a peer is
// auto-dialed.
//
// Unlike internal/config, this store is read AND written at runtime —
// node_id is generated once on first run and never changes again.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Connection modes this node can operate in.
const (
	ModeAutoHub    = "auto-hub"
	ModePureClient = "pure-client"
)

const (
	fileNodeID     = "node-id"
	fileDeviceName = "device-name"
	filePort       = "server-port"
	fileMode       = "connection-mode"
	fileRemoteURL  = "remote-server-url"

	defaultPort = 7777
)

// Errors returned by Store methods.
var (
	// ErrNodeIDImmutable is returned when a caller attempts to change an
	// already-assigned node id.
	ErrNodeIDImmutable = errors.New("identity: node id is write-once and already set")
)

// Store holds the node's identity state in memory, mirrored to disk on
// every mutation. All methods are safe for concurrent use.
type Store struct {
	mu  sync.Mutex
	dir string

	persistent bool // false when dir was unwritable at Open time

	nodeID     string
	deviceName string
	port       int
	mode       string
	remoteURL  string
}

// Open loads identity state from dir, creating it (and a fresh node id)
// on first run. If dir cannot be created or written to, Open logs a
// warning and falls back to an in-memory-only Store seeded with
// defaults, so the engine keeps running with ephemeral identity rather
// than failing to start.
func Open(logger *slog.Logger, dir string) (*Store, error) {
	s := &Store{
		dir:        dir,
		persistent: true,
		deviceName: defaultDeviceName(),
		port:       defaultPort,
		mode:       ModeAutoHub,
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		logger.Warn("identity directory unwritable, falling back to in-memory identity",
			slog.String("dir", dir), slog.Any("error", err))
		s.persistent = false
		s.nodeID = uuid.NewString()
		return s, nil
	}

	s.nodeID = s.readOrInit(logger, fileNodeID, func() string { return uuid.NewString() })

	if v := s.readString(fileDeviceName); v != "" {
		s.deviceName = v
	} else {
		s.writeString(logger, fileDeviceName, s.deviceName)
	}

	if v := s.readString(filePort); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			s.port = p
		}
	} else {
		s.writeString(logger, filePort, strconv.Itoa(s.port))
	}

	if v := s.readString(fileMode); v == ModeAutoHub || v == ModePureClient {
		s.mode = v
	} else {
		s.writeString(logger, fileMode, s.mode)
	}

	s.remoteURL = s.readString(fileRemoteURL)

	logger.Info("identity loaded", slog.String("node_id", s.nodeID), slog.String("mode", s.mode))

	return s, nil
}

// readOrInit reads a single-value file, or generates and persists a new
// value via gen if the file is missing.
func (s *Store) readOrInit(logger *slog.Logger, name string, gen func() string) string {
	if v := s.readString(name); v != "" {
		return v
	}

	v := gen()
	s.writeString(logger, name, v)

	return v
}

func (s *Store) readString(name string) string {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(raw))
}

func (s *Store) writeString(logger *slog.Logger, name, value string) {
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(value), 0o600); err != nil {
		logger.Warn("failed to persist identity field", slog.String("file", name), slog.Any("error", err))
	}
}

func defaultDeviceName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}

	return "relaymesh-node"
}

// NodeID returns the node's stable, write-once identifier.
func (s *Store) NodeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nodeID
}

// SetNodeID is only for restoring identity from a backup onto a fresh
// data directory; it refuses to overwrite a node id that Open already
// assigned. Ordinary operation never calls this.
func (s *Store) SetNodeID(logger *slog.Logger, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nodeID != "" {
		return ErrNodeIDImmutable
	}

	s.nodeID = id
	if s.persistent {
		s.writeString(logger, fileNodeID, id)
	}

	return nil
}

// DeviceName returns the current display name.
func (s *Store) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deviceName
}

// SetDeviceName updates and persists the display name.
func (s *Store) SetDeviceName(logger *slog.Logger, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deviceName = name
	if s.persistent {
		s.writeString(logger, fileDeviceName, name)
	}
}

// Port returns the configured listen port for peer connections.
func (s *Store) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.port
}

// SetPort updates and persists the listen port.
func (s *Store) SetPort(logger *slog.Logger, port int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.port = port
	if s.persistent {
		s.writeString(logger, filePort, strconv.Itoa(port))
	}
}

// Mode returns the current connection mode (auto-hub or pure-client).
func (s *Store) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mode
}

// SetMode updates and persists the connection mode.
func (s *Store) SetMode(logger *slog.Logger, mode string) error {
	if mode != ModeAutoHub && mode != ModePureClient {
		return fmt.Errorf("identity: invalid connection mode %q", mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.mode = mode
	if s.persistent {
		s.writeString(logger, fileMode, mode)
	}

	return nil
}

// RemoteServerURL returns the configured remote hub URL, or "" when the
// node is not configured to dial out to a remote hub.
func (s *Store) RemoteServerURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.remoteURL
}

// SetRemoteServerURL updates and persists the remote hub URL.
func (s *Store) SetRemoteServerURL(logger *slog.Logger, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remoteURL = url
	if s.persistent {
		s.writeString(logger, fileRemoteURL, url)
	}
}
