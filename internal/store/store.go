// Package store implements the durable store: devices/peers, transfers,
// tag vocabulary, and the on-disk blob directory, backed by a pure-Go
// embedded SQLite database (modernc.org/sqlite).
//
// All writes are serialized through a single mutex (the single-writer
// policy); reads go directly through the connection pool, which SQLite
// itself serializes internally.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // database/sql driver registration
)

// Sentinel errors returned by Store methods.
var (
	// ErrPeerNotFound indicates no peer record exists for the given id.
	ErrPeerNotFound = errors.New("store: peer not found")

	// ErrTransferNotFound indicates no transfer record exists for the given id.
	ErrTransferNotFound = errors.New("store: transfer not found")

	// ErrDuplicateStorageName indicates a storage_name collision on create.
	ErrDuplicateStorageName = errors.New("store: storage name already exists")
)

// Store wraps a *sql.DB with the Durable Store's schema and operations.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	writeMu sync.Mutex

	dataDir string
	blobDir string
}

// Open creates (if needed) the SQLite database and blob directory under
// dataDir, applies schema + migrations, and resets all peers to offline:
// on daemon startup, every peer record is forced to is_online=false,
// since no session has been re-established yet.
func Open(ctx context.Context, logger *slog.Logger, dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	blobDir := filepath.Join(dataDir, "uploads")
	if err := os.MkdirAll(blobDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create blob dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "relaymesh.db")

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one writer, avoids SQLITE_BUSY under our own mutex too

	s := &Store{db: db, logger: logger, dataDir: dataDir, blobDir: blobDir}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	if _, err := db.ExecContext(ctx, `UPDATE peers SET is_online = 0, transport_session_token = NULL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: reset peer online state: %w", err)
	}

	logger.Info("durable store ready", slog.String("path", dbPath))

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// BlobDir returns the directory holding uploaded file content.
func (s *Store) BlobDir() string {
	return s.blobDir
}

// BlobPath returns the absolute path for a transfer's storage_name.
// storage_name is attacker-controlled (it arrives over the wire from a
// peer or a local client upload), so only its base name is ever used —
// any directory components are stripped to keep the result confined to
// the blob directory.
func (s *Store) BlobPath(storageName string) string {
	return filepath.Join(s.blobDir, filepath.Base(storageName))
}

// OpenBlobForWrite creates a new file under the blob directory, truncating
// any existing content at that storage name.
func (s *Store) OpenBlobForWrite(storageName string) (*os.File, error) {
	f, err := os.OpenFile(s.BlobPath(storageName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: open blob %s: %w", storageName, err)
	}

	return f, nil
}

// DeleteBlob removes a transfer's on-disk content, if present.
func (s *Store) DeleteBlob(storageName string) error {
	if err := os.Remove(s.BlobPath(storageName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete blob %s: %w", storageName, err)
	}

	return nil
}

// -------------------------------------------------------------------------
// Schema & migrations
// -------------------------------------------------------------------------

const baseSchema = `
CREATE TABLE IF NOT EXISTS peers (
    peer_id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    last_host TEXT NOT NULL DEFAULT '',
    last_port INTEGER NOT NULL DEFAULT 0,
    last_seen INTEGER NOT NULL DEFAULT 0,
    is_online INTEGER NOT NULL DEFAULT 0,
    transport_session_token TEXT,
    enabled_by_user INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS transfers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    storage_name TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    mime TEXT NOT NULL DEFAULT '',
    byte_size INTEGER NOT NULL DEFAULT 0,
    inline_content TEXT,
    origin_peer_id TEXT,
    destination_peer_id TEXT,
    connection_ref TEXT,
    is_clipboard INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    origin_name_snapshot TEXT NOT NULL DEFAULT '',
    destination_name_snapshot TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    extra_metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS tags (
    name TEXT PRIMARY KEY
);
`

// addColumnMigrations lists additive schema changes applied in order.
// Each is idempotent: a "duplicate column name" failure is swallowed.
var addColumnMigrations = []string{
	`ALTER TABLE peers ADD COLUMN enabled_by_user INTEGER NOT NULL DEFAULT 1`,
	`ALTER TABLE transfers ADD COLUMN extra_metadata TEXT NOT NULL DEFAULT '{}'`,
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}

	for _, stmt := range addColumnMigrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("apply migration %q: %w", stmt, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Peer records
// -------------------------------------------------------------------------

// Peer mirrors one row of the peers table.
type Peer struct {
	PeerID                string
	DisplayName           string
	LastHost              string
	LastPort              int
	LastSeen              time.Time
	IsOnline              bool
	TransportSessionToken string
	EnabledByUser         bool
}

// UpsertPeerByID inserts or updates a peer record, keyed by PeerID.
func (s *Store) UpsertPeerByID(ctx context.Context, p Peer) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO peers (peer_id, display_name, last_host, last_port, last_seen, is_online, transport_session_token, enabled_by_user)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_id) DO UPDATE SET
			display_name = excluded.display_name,
			last_host = excluded.last_host,
			last_port = excluded.last_port,
			last_seen = excluded.last_seen,
			is_online = excluded.is_online,
			transport_session_token = excluded.transport_session_token,
			enabled_by_user = excluded.enabled_by_user
	`, p.PeerID, p.DisplayName, p.LastHost, p.LastPort, p.LastSeen.Unix(), boolToInt(p.IsOnline), nullable(p.TransportSessionToken), boolToInt(p.EnabledByUser))
	if err != nil {
		return fmt.Errorf("upsert peer %s: %w", p.PeerID, err)
	}

	return nil
}

// MarkPeerOnline sets is_online=true and records the session token/address.
func (s *Store) MarkPeerOnline(ctx context.Context, peerID, host string, port int, token string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE peers SET is_online = 1, last_host = ?, last_port = ?, last_seen = ?, transport_session_token = ?
		WHERE peer_id = ?
	`, host, port, time.Now().Unix(), nullable(token), peerID)
	if err != nil {
		return fmt.Errorf("mark peer online %s: %w", peerID, err)
	}

	return requireRowAffected(res, ErrPeerNotFound)
}

// MarkPeerOffline clears is_online and the session token for a peer.
func (s *Store) MarkPeerOffline(ctx context.Context, peerID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE peers SET is_online = 0, transport_session_token = NULL, last_seen = ? WHERE peer_id = ?
	`, time.Now().Unix(), peerID)
	if err != nil {
		return fmt.Errorf("mark peer offline %s: %w", peerID, err)
	}

	return requireRowAffected(res, ErrPeerNotFound)
}

// SetPeerEnabled updates whether a peer is auto-dialed on rediscovery.
func (s *Store) SetPeerEnabled(ctx context.Context, peerID string, enabled bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE peers SET enabled_by_user = ? WHERE peer_id = ?`, boolToInt(enabled), peerID)
	if err != nil {
		return fmt.Errorf("set peer enabled %s: %w", peerID, err)
	}

	return requireRowAffected(res, ErrPeerNotFound)
}

// RenamePeer updates a peer's display name.
func (s *Store) RenamePeer(ctx context.Context, peerID, name string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE peers SET display_name = ? WHERE peer_id = ?`, name, peerID)
	if err != nil {
		return fmt.Errorf("rename peer %s: %w", peerID, err)
	}

	return requireRowAffected(res, ErrPeerNotFound)
}

// GetPeer fetches one peer record by id.
func (s *Store) GetPeer(ctx context.Context, peerID string) (Peer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT peer_id, display_name, last_host, last_port, last_seen, is_online, COALESCE(transport_session_token, ''), enabled_by_user
		FROM peers WHERE peer_id = ?
	`, peerID)

	return scanPeer(row)
}

// ListPeers returns every peer record, ordered by display name.
func (s *Store) ListPeers(ctx context.Context) ([]Peer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT peer_id, display_name, last_host, last_port, last_seen, is_online, COALESCE(transport_session_token, ''), enabled_by_user
		FROM peers ORDER BY display_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	var out []Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeer(row rowScanner) (Peer, error) {
	var (
		p        Peer
		lastSeen int64
		online   int
		enabled  int
	)

	err := row.Scan(&p.PeerID, &p.DisplayName, &p.LastHost, &p.LastPort, &lastSeen, &online, &p.TransportSessionToken, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return Peer{}, ErrPeerNotFound
	}
	if err != nil {
		return Peer{}, fmt.Errorf("scan peer: %w", err)
	}

	p.LastSeen = time.Unix(lastSeen, 0)
	p.IsOnline = online != 0
	p.EnabledByUser = enabled != 0

	return p, nil
}

// -------------------------------------------------------------------------
// Transfers
// -------------------------------------------------------------------------

// Transfer mirrors one row of the transfers table.
type Transfer struct {
	ID                       int64
	StorageName              string
	DisplayName              string
	Mime                     string
	ByteSize                 int64
	InlineContent            string
	OriginPeerID             string
	DestinationPeerID        string
	ConnectionRef            string
	IsClipboard              bool
	CreatedAt                time.Time
	OriginNameSnapshot       string
	DestinationNameSnapshot  string
	Tags                     []string
	ExtraMetadata            map[string]any
}

// CreateTransfer inserts a new transfer record and returns its id.
func (s *Store) CreateTransfer(ctx context.Context, t Transfer) (int64, error) {
	tagsJSON, err := json.Marshal(normalizeTags(t.Tags))
	if err != nil {
		return 0, fmt.Errorf("marshal tags: %w", err)
	}

	metaJSON, err := marshalMetadata(t.ExtraMetadata)
	if err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transfers (
			storage_name, display_name, mime, byte_size, inline_content,
			origin_peer_id, destination_peer_id, connection_ref, is_clipboard,
			created_at, origin_name_snapshot, destination_name_snapshot, tags, extra_metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.StorageName, t.DisplayName, t.Mime, t.ByteSize, nullable(t.InlineContent),
		nullable(t.OriginPeerID), nullable(t.DestinationPeerID), nullable(t.ConnectionRef), boolToInt(t.IsClipboard),
		timeOrNow(t.CreatedAt).Unix(), t.OriginNameSnapshot, t.DestinationNameSnapshot, string(tagsJSON), string(metaJSON))
	if err != nil {
		if isUniqueConstraint(err) {
			return 0, fmt.Errorf("create transfer %s: %w", t.StorageName, ErrDuplicateStorageName)
		}
		return 0, fmt.Errorf("create transfer %s: %w", t.StorageName, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create transfer %s: last insert id: %w", t.StorageName, err)
	}

	return id, nil
}

// GetTransfer fetches one transfer by id.
func (s *Store) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	row := s.db.QueryRowContext(ctx, transferSelect+` WHERE id = ?`, id)
	return scanTransfer(row)
}

// TransferByStorageName fetches one transfer by its unique storage name.
func (s *Store) TransferByStorageName(ctx context.Context, storageName string) (Transfer, error) {
	row := s.db.QueryRowContext(ctx, transferSelect+` WHERE storage_name = ?`, storageName)
	return scanTransfer(row)
}

// ListTransfers returns every transfer, newest first.
func (s *Store) ListTransfers(ctx context.Context) ([]Transfer, error) {
	rows, err := s.db.QueryContext(ctx, transferSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, rows.Err()
}

// RenameTransfer updates a transfer's display name.
func (s *Store) RenameTransfer(ctx context.Context, id int64, name string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE transfers SET display_name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("rename transfer %d: %w", id, err)
	}

	return requireRowAffected(res, ErrTransferNotFound)
}

// SetTransferTags replaces a transfer's tag list, normalizing it first,
// and registers any previously-unseen tags in the tag vocabulary.
func (s *Store) SetTransferTags(ctx context.Context, id int64, tags []string) error {
	normalized := normalizeTags(tags)

	tagsJSON, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set transfer tags %d: begin tx: %w", id, err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE transfers SET tags = ? WHERE id = ?`, string(tagsJSON), id)
	if err != nil {
		return fmt.Errorf("set transfer tags %d: %w", id, err)
	}
	if err := requireRowAffected(res, ErrTransferNotFound); err != nil {
		return err
	}

	for _, tag := range normalized {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`, tag); err != nil {
			return fmt.Errorf("register tag %q: %w", tag, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set transfer tags %d: commit: %w", id, err)
	}

	return nil
}

// SetTransferMetadata replaces a transfer's extra_metadata blob.
func (s *Store) SetTransferMetadata(ctx context.Context, id int64, meta map[string]any) error {
	metaJSON, err := marshalMetadata(meta)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE transfers SET extra_metadata = ? WHERE id = ?`, string(metaJSON), id)
	if err != nil {
		return fmt.Errorf("set transfer metadata %d: %w", id, err)
	}

	return requireRowAffected(res, ErrTransferNotFound)
}

// DeleteTransfer removes a transfer record. The caller is responsible for
// deleting the associated blob via DeleteBlob.
func (s *Store) DeleteTransfer(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM transfers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transfer %d: %w", id, err)
	}

	return requireRowAffected(res, ErrTransferNotFound)
}

const transferSelect = `
	SELECT id, storage_name, display_name, mime, byte_size, COALESCE(inline_content, ''),
		COALESCE(origin_peer_id, ''), COALESCE(destination_peer_id, ''), COALESCE(connection_ref, ''),
		is_clipboard, created_at, origin_name_snapshot, destination_name_snapshot, tags, extra_metadata
	FROM transfers
`

func scanTransfer(row rowScanner) (Transfer, error) {
	var (
		t          Transfer
		createdAt  int64
		isClip     int
		tagsJSON   string
		metaJSON   string
	)

	err := row.Scan(&t.ID, &t.StorageName, &t.DisplayName, &t.Mime, &t.ByteSize, &t.InlineContent,
		&t.OriginPeerID, &t.DestinationPeerID, &t.ConnectionRef, &isClip, &createdAt,
		&t.OriginNameSnapshot, &t.DestinationNameSnapshot, &tagsJSON, &metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Transfer{}, ErrTransferNotFound
	}
	if err != nil {
		return Transfer{}, fmt.Errorf("scan transfer: %w", err)
	}

	t.IsClipboard = isClip != 0
	t.CreatedAt = time.Unix(createdAt, 0)

	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return Transfer{}, fmt.Errorf("unmarshal tags for transfer %d: %w", t.ID, err)
	}

	if err := json.Unmarshal([]byte(metaJSON), &t.ExtraMetadata); err != nil {
		return Transfer{}, fmt.Errorf("unmarshal metadata for transfer %d: %w", t.ID, err)
	}

	return t, nil
}

// -------------------------------------------------------------------------
// Tag vocabulary
// -------------------------------------------------------------------------

// ListTags returns every known tag, sorted alphabetically.
func (s *Store) ListTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM tags ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, name)
	}

	return out, rows.Err()
}

// AddTag registers a new tag in the vocabulary (idempotent).
func (s *Store) AddTag(ctx context.Context, name string) error {
	norm := normalizeTag(name)
	if norm == "" {
		return fmt.Errorf("store: tag name must not be empty")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`, norm); err != nil {
		return fmt.Errorf("add tag %q: %w", norm, err)
	}

	return nil
}

// DeleteTag removes a tag from the vocabulary and from every transfer
// that references it, rewriting affected transfers in the same
// transaction.
func (s *Store) DeleteTag(ctx context.Context, name string) error {
	norm := normalizeTag(name)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete tag %q: begin tx: %w", norm, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE name = ?`, norm); err != nil {
		return fmt.Errorf("delete tag %q: %w", norm, err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, tags FROM transfers WHERE tags LIKE '%' || ? || '%'`, quoteJSON(norm))
	if err != nil {
		return fmt.Errorf("delete tag %q: scan affected transfers: %w", norm, err)
	}

	type affected struct {
		id   int64
		tags []string
	}
	var toUpdate []affected

	for rows.Next() {
		var id int64
		var tagsJSON string
		if err := rows.Scan(&id, &tagsJSON); err != nil {
			rows.Close()
			return fmt.Errorf("delete tag %q: scan row: %w", norm, err)
		}

		var tags []string
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			rows.Close()
			return fmt.Errorf("delete tag %q: unmarshal tags: %w", norm, err)
		}

		if containsTag(tags, norm) {
			toUpdate = append(toUpdate, affected{id: id, tags: removeTag(tags, norm)})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("delete tag %q: %w", norm, err)
	}

	for _, a := range toUpdate {
		tagsJSON, err := json.Marshal(a.tags)
		if err != nil {
			return fmt.Errorf("delete tag %q: marshal updated tags: %w", norm, err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE transfers SET tags = ? WHERE id = ?`, string(tagsJSON), a.id); err != nil {
			return fmt.Errorf("delete tag %q: update transfer %d: %w", norm, a.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete tag %q: commit: %w", norm, err)
	}

	return nil
}

func quoteJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func containsTag(tags []string, name string) bool {
	for _, t := range tags {
		if t == name {
			return true
		}
	}
	return false
}

func removeTag(tags []string, name string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != name {
			out = append(out, t)
		}
	}
	return out
}

// normalizeTags trims, lowercases, deduplicates, and sorts a tag list.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))

	for _, t := range tags {
		n := normalizeTag(t)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}

	sort.Strings(out)

	return out
}

func normalizeTag(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if meta == nil {
		meta = map[string]any{}
	}

	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal extra_metadata: %w", err)
	}

	return b, nil
}

func requireRowAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
