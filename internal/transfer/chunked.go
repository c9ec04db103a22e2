package transfer

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"time"
)

// Sentinel errors for chunked-transfer protocol violations.
var (
	ErrUnknownTransfer  = errors.New("transfer: unknown transfer id")
	ErrOutOfOrderChunk  = errors.New("transfer: chunk received out of order")
	ErrIncompleteAtEnd  = errors.New("transfer: chunk-end before all chunks received")
	ErrChunkHashMismatch = errors.New("transfer: assembled blob sha256 mismatch")
)

// Assembler tracks one in-progress chunked transfer and enforces
// in-order delivery: the simplest conformant choice, requiring
// chunk_index strictly increasing from 0.
//
// chunk-end arriving before total_chunks chunks have been received is
// treated as a protocol error. The partial temp file is discarded
// rather than finalized.
type Assembler struct {
	transferID  string
	storageName string
	displayName string
	mime        string
	byteSize    int64
	totalChunks int
	wantSHA256  string
	targetRoute string
	isClipboard bool

	tempPath string
	file     *os.File
	hasher   hash.Hash

	receivedChunks int
	startedAt      time.Time
}

// NewAssembler opens a temp file under blobDir and begins tracking a
// chunked transfer described by start.
func NewAssembler(blobDir string, start ChunkStart) (*Assembler, error) {
	tempPath := filepath.Join(blobDir, start.TransferID+".tmp")

	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open temp file for transfer %s: %w", start.TransferID, err)
	}

	return &Assembler{
		transferID:  start.TransferID,
		storageName: start.StorageName,
		displayName: start.DisplayName,
		mime:        start.Mime,
		byteSize:    start.ByteSize,
		totalChunks: start.TotalChunks,
		wantSHA256:  start.SHA256,
		targetRoute: start.TargetRoute,
		isClipboard: start.IsClipboard,
		tempPath:    tempPath,
		file:        f,
		hasher:      sha256.New(),
		startedAt:   time.Now(),
	}, nil
}

// StartedAt reports when the assembler was created, used by the reaper
// to find stale in-progress transfers.
func (a *Assembler) StartedAt() time.Time { return a.startedAt }

// WriteChunk appends chunk to the temp file. It rejects a chunk_index
// that does not match the next expected index in sequence.
func (a *Assembler) WriteChunk(chunk ChunkData) error {
	if chunk.ChunkIndex != a.receivedChunks {
		return fmt.Errorf("transfer %s: chunk %d, expected %d: %w", a.transferID, chunk.ChunkIndex, a.receivedChunks, ErrOutOfOrderChunk)
	}

	raw, err := base64.StdEncoding.DecodeString(chunk.ContentB64)
	if err != nil {
		return fmt.Errorf("transfer %s: decode chunk %d: %w", a.transferID, chunk.ChunkIndex, err)
	}

	if _, err := a.file.Write(raw); err != nil {
		return fmt.Errorf("transfer %s: write chunk %d: %w", a.transferID, chunk.ChunkIndex, err)
	}

	a.hasher.Write(raw)
	a.receivedChunks++

	return nil
}

// Finish validates that every chunk arrived, closes and renames the
// temp file to its final storage path, and optionally verifies the
// sender-supplied SHA-256 hint.
func (a *Assembler) Finish(finalPath string) error {
	if a.receivedChunks != a.totalChunks {
		a.Abort()
		return fmt.Errorf("transfer %s: got %d/%d chunks: %w", a.transferID, a.receivedChunks, a.totalChunks, ErrIncompleteAtEnd)
	}

	if err := a.file.Close(); err != nil {
		a.Abort()
		return fmt.Errorf("transfer %s: close temp file: %w", a.transferID, err)
	}

	if a.wantSHA256 != "" {
		got := hex.EncodeToString(a.hasher.Sum(nil))
		if got != a.wantSHA256 {
			os.Remove(a.tempPath)
			return fmt.Errorf("transfer %s: %w", a.transferID, ErrChunkHashMismatch)
		}
	}

	if err := os.Rename(a.tempPath, finalPath); err != nil {
		os.Remove(a.tempPath)
		return fmt.Errorf("transfer %s: rename to final path: %w", a.transferID, err)
	}

	return nil
}

// Abort discards the temp file without finalizing anything.
func (a *Assembler) Abort() {
	a.file.Close()
	os.Remove(a.tempPath)
}
