package transfer

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAssemblerInOrderChunksProduceExactBytes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	start := ChunkStart{TransferID: "t1", StorageName: "blob.bin", TotalChunks: 3, ByteSize: 9}

	a, err := NewAssembler(dir, start)
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}

	chunks := [][]byte{[]byte("aaa"), []byte("bbb"), []byte("ccc")}
	for i, c := range chunks {
		err := a.WriteChunk(ChunkData{TransferID: "t1", ChunkIndex: i, ContentB64: base64.StdEncoding.EncodeToString(c)})
		if err != nil {
			t.Fatalf("WriteChunk(%d): %v", i, err)
		}
	}

	finalPath := filepath.Join(dir, "blob.bin")
	if err := a.Finish(finalPath); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("read final blob: %v", err)
	}
	if string(got) != "aaabbbccc" {
		t.Errorf("assembled bytes = %q, want %q", got, "aaabbbccc")
	}
}

func TestAssemblerRejectsOutOfOrderChunk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := NewAssembler(dir, ChunkStart{TransferID: "t2", StorageName: "b.bin", TotalChunks: 2})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}
	defer a.Abort()

	err = a.WriteChunk(ChunkData{TransferID: "t2", ChunkIndex: 1, ContentB64: base64.StdEncoding.EncodeToString([]byte("x"))})
	if !errors.Is(err, ErrOutOfOrderChunk) {
		t.Errorf("WriteChunk out of order = %v, want ErrOutOfOrderChunk", err)
	}
}

func TestAssemblerFinishBeforeAllChunksIsError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := NewAssembler(dir, ChunkStart{TransferID: "t3", StorageName: "c.bin", TotalChunks: 2})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}

	if err := a.WriteChunk(ChunkData{TransferID: "t3", ChunkIndex: 0, ContentB64: base64.StdEncoding.EncodeToString([]byte("x"))}); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	err = a.Finish(filepath.Join(dir, "c.bin"))
	if !errors.Is(err, ErrIncompleteAtEnd) {
		t.Errorf("Finish with missing chunks = %v, want ErrIncompleteAtEnd", err)
	}

	if _, statErr := os.Stat(filepath.Join(dir, "t3.tmp")); !os.IsNotExist(statErr) {
		t.Error("temp file was not cleaned up after incomplete Finish")
	}
}

func TestAssemblerVerifiesSHA256Hint(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := NewAssembler(dir, ChunkStart{TransferID: "t4", StorageName: "d.bin", TotalChunks: 1, SHA256: "deadbeef"})
	if err != nil {
		t.Fatalf("NewAssembler: %v", err)
	}

	if err := a.WriteChunk(ChunkData{TransferID: "t4", ChunkIndex: 0, ContentB64: base64.StdEncoding.EncodeToString([]byte("x"))}); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	err = a.Finish(filepath.Join(dir, "d.bin"))
	if !errors.Is(err, ErrChunkHashMismatch) {
		t.Errorf("Finish with mismatched sha256 = %v, want ErrChunkHashMismatch", err)
	}
}
