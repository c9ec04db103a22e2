// Package transfer implements the transfer engine: small in-band
// file/clipboard transfers and chunked transfers for larger payloads,
// backed by internal/store for durable records and blobs.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/relaymesh/relaymesh/internal/store"
)

const (
	// RecommendedChunkBytes is the sender-side chunk size suggestion: not
	// protocol-mandated, but kept comfortably inside typical transport
	// framing limits.
	RecommendedChunkBytes = 4 << 20

	reapSweepInterval = 60 * time.Second
	reapStaleAfter    = 5 * time.Minute

	maxStorageNameRetries = 5
)

// Sender abstracts delivering a frame to a destination (a local
// WebSocket client or a peer session), so the engine does not depend
// directly on internal/api or internal/session.
type Sender interface {
	Send(destination string, v any) error
}

// EventSink receives local UI-facing events: it is notified whenever a
// transfer lands so a UI can refresh without polling.
type EventSink interface {
	TransferReceived(t store.Transfer)
}

// Engine implements both small and chunked transfer handling.
type Engine struct {
	logger *slog.Logger
	store  *store.Store
	sender Sender
	events EventSink

	mu          sync.Mutex
	inProgress  map[string]*Assembler // transfer_id -> assembler
}

// NewEngine constructs a transfer Engine.
func NewEngine(logger *slog.Logger, st *store.Store, sender Sender, events EventSink) *Engine {
	return &Engine{
		logger:     logger.With(slog.String("component", "transfer")),
		store:      st,
		sender:     sender,
		events:     events,
		inProgress: make(map[string]*Assembler),
	}
}

// HandleFileTransfer processes an inbound small file-transfer frame and
// returns the ack to send back to the origin. On a storage_name
// collision the transfer is persisted under a renamed, timestamp-
// prefixed storage_name rather than silently overwriting the existing
// blob and dropping the new transfer's record.
func (e *Engine) HandleFileTransfer(ctx context.Context, originPeerID string, msg FileTransfer) FileReceivedAck {
	var raw []byte
	if !msg.IsClipboard {
		var err error
		raw, err = decodeInline(msg.Mime, msg.InlineContent)
		if err != nil {
			e.logger.Warn("inline content decode failed", slog.String("storage_name", msg.StorageName), slog.Any("error", err))
			return FileReceivedAck{Type: TypeFileReceivedAck, StorageName: msg.StorageName}
		}
	}

	t := store.Transfer{
		StorageName:        msg.StorageName,
		DisplayName:        msg.DisplayName,
		Mime:               msg.Mime,
		ByteSize:           msg.ByteSize,
		OriginPeerID:       originPeerID,
		IsClipboard:        msg.IsClipboard,
		OriginNameSnapshot: msg.DisplayName,
	}
	if msg.IsClipboard {
		t.InlineContent = msg.InlineContent
	}

	id, err := e.createTransferUnique(ctx, &t)
	if err != nil {
		e.logger.Warn("create transfer record failed", slog.String("storage_name", msg.StorageName), slog.Any("error", err))
		return FileReceivedAck{Type: TypeFileReceivedAck, StorageName: msg.StorageName}
	}
	t.ID = id

	if !msg.IsClipboard {
		f, err := e.store.OpenBlobForWrite(t.StorageName)
		if err != nil {
			e.logger.Warn("open blob failed", slog.String("storage_name", t.StorageName), slog.Any("error", err))
			return FileReceivedAck{Type: TypeFileReceivedAck, StorageName: t.StorageName}
		}
		if _, err := f.Write(raw); err != nil {
			f.Close()
			e.logger.Warn("write blob failed", slog.String("storage_name", t.StorageName), slog.Any("error", err))
			return FileReceivedAck{Type: TypeFileReceivedAck, StorageName: t.StorageName}
		}
		f.Close()
	}

	if e.events != nil {
		e.events.TransferReceived(t)
	}

	return FileReceivedAck{Type: TypeFileReceivedAck, StorageName: t.StorageName}
}

// createTransferUnique persists t, renaming t.StorageName on a
// storage_name collision and retrying until CreateTransfer succeeds or
// the retry budget is exhausted. The caller must not touch the blob
// path for t.StorageName until this returns successfully, so a
// collision never truncates another transfer's existing blob.
func (e *Engine) createTransferUnique(ctx context.Context, t *store.Transfer) (int64, error) {
	var lastErr error

	for attempt := 0; attempt < maxStorageNameRetries; attempt++ {
		id, err := e.store.CreateTransfer(ctx, *t)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, store.ErrDuplicateStorageName) {
			return 0, err
		}

		lastErr = err
		t.StorageName = fmt.Sprintf("%d-%s", time.Now().UnixNano(), t.StorageName)
	}

	return 0, fmt.Errorf("create transfer: exhausted retries for storage_name collisions: %w", lastErr)
}

// HandleChunkStart begins tracking a chunked transfer.
func (e *Engine) HandleChunkStart(start ChunkStart) ChunkAck {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.inProgress[start.TransferID]; exists {
		return e.errAck(start.TransferID, nil, "transfer already in progress")
	}

	a, err := NewAssembler(e.store.BlobDir(), start)
	if err != nil {
		e.logger.Warn("chunk-start failed", slog.String("transfer_id", start.TransferID), slog.Any("error", err))
		return e.errAck(start.TransferID, nil, err.Error())
	}

	e.inProgress[start.TransferID] = a

	if start.TargetRoute != "" && e.sender != nil {
		if err := e.sender.Send(start.TargetRoute, start); err != nil {
			e.logger.Debug("chunk-start forward failed", slog.String("transfer_id", start.TransferID), slog.Any("error", err))
		}
	}

	return ChunkAck{Type: TypeChunkAck, TransferID: start.TransferID, Status: ChunkStatusOK}
}

// HandleChunkData appends one chunk, enforcing in-order delivery.
func (e *Engine) HandleChunkData(data ChunkData) ChunkAck {
	e.mu.Lock()
	a, ok := e.inProgress[data.TransferID]
	e.mu.Unlock()

	if !ok {
		idx := data.ChunkIndex
		return e.errAck(data.TransferID, &idx, "Unknown transfer")
	}

	if err := a.WriteChunk(data); err != nil {
		e.mu.Lock()
		delete(e.inProgress, data.TransferID)
		e.mu.Unlock()
		a.Abort()

		idx := data.ChunkIndex
		e.logger.Warn("chunk write failed", slog.String("transfer_id", data.TransferID), slog.Any("error", err))
		ack := e.errAck(data.TransferID, &idx, err.Error())
		if errors.Is(err, ErrOutOfOrderChunk) {
			ack.Type = TypeChunkError
		}
		return ack
	}

	if a.targetRoute != "" && e.sender != nil {
		if err := e.sender.Send(a.targetRoute, data); err != nil {
			e.logger.Debug("chunk-data forward failed", slog.String("transfer_id", data.TransferID), slog.Any("error", err))
		}
	}

	idx := data.ChunkIndex
	return ChunkAck{Type: TypeChunkAck, TransferID: data.TransferID, ChunkIndex: &idx, Status: ChunkStatusOK}
}

// HandleChunkEnd finalizes a chunked transfer: creates the transfer
// record (renaming storage_name first on a collision, the same as
// HandleFileTransfer), then renames the temp file to its final blob
// path and notifies the event sink.
func (e *Engine) HandleChunkEnd(ctx context.Context, originPeerID string, end ChunkEnd) ChunkAck {
	e.mu.Lock()
	a, ok := e.inProgress[end.TransferID]
	if ok {
		delete(e.inProgress, end.TransferID)
	}
	e.mu.Unlock()

	if !ok {
		return e.errAck(end.TransferID, nil, "Unknown transfer")
	}

	t := store.Transfer{
		StorageName:        a.storageName,
		DisplayName:        a.displayName,
		Mime:               a.mime,
		ByteSize:           a.byteSize,
		OriginPeerID:       originPeerID,
		IsClipboard:        a.isClipboard,
		OriginNameSnapshot: a.displayName,
	}

	id, err := e.createTransferUnique(ctx, &t)
	if err != nil {
		a.Abort()
		e.logger.Warn("create transfer record failed", slog.String("transfer_id", end.TransferID), slog.Any("error", err))
		return e.errAck(end.TransferID, nil, err.Error())
	}
	t.ID = id

	finalPath := e.store.BlobPath(t.StorageName)
	if err := a.Finish(finalPath); err != nil {
		e.logger.Warn("chunk-end failed", slog.String("transfer_id", end.TransferID), slog.Any("error", err))
		return e.errAck(end.TransferID, nil, err.Error())
	}

	if a.targetRoute != "" && e.sender != nil {
		if err := e.sender.Send(a.targetRoute, end); err != nil {
			e.logger.Debug("chunk-end forward failed", slog.String("transfer_id", end.TransferID), slog.Any("error", err))
		}
	}

	if e.events != nil {
		e.events.TransferReceived(t)
	}

	return ChunkAck{Type: TypeChunkAck, TransferID: end.TransferID, Status: ChunkStatusOK}
}

func (e *Engine) errAck(transferID string, chunkIndex *int, msg string) ChunkAck {
	return ChunkAck{Type: TypeChunkAck, TransferID: transferID, ChunkIndex: chunkIndex, Status: ChunkStatusError, Error: msg}
}

// RunReaper sweeps in-progress chunked transfers every reapSweepInterval
// and drops any older than reapStaleAfter, closing and unlinking their
// temp files without emitting an event.
func (e *Engine) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(reapSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reapOnce()
		}
	}
}

func (e *Engine) reapOnce() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for id, a := range e.inProgress {
		if now.Sub(a.StartedAt()) > reapStaleAfter {
			e.logger.Info("reaping stale in-progress transfer", slog.String("transfer_id", id))
			a.Abort()
			delete(e.inProgress, id)
		}
	}
}

