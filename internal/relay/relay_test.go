package relay_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/relaymesh/relaymesh/internal/relay"
	"github.com/relaymesh/relaymesh/internal/store"
	"github.com/relaymesh/relaymesh/internal/transfer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), testLogger(), t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return st
}

type fakeClient struct {
	sent []any
}

func (f *fakeClient) Send(v any) error {
	f.sent = append(f.sent, v)
	return nil
}

type fakePeerSender struct {
	sent map[string][]any
}

func newFakePeerSender() *fakePeerSender {
	return &fakePeerSender{sent: make(map[string][]any)}
}

func (f *fakePeerSender) Send(peerID string, v any) error {
	f.sent[peerID] = append(f.sent[peerID], v)
	return nil
}

func TestDeviceSetupAssignsTokenAndRoster(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	engine := transfer.NewEngine(testLogger(), st, nil, nil)
	h := relay.NewHub(testLogger(), "node-a", st, engine, nil)

	c1 := &fakeClient{}
	resp, autoPaired := h.DeviceSetup(c1, "Laptop", "")
	if resp.ClientToken == "" {
		t.Error("ClientToken is empty")
	}
	if autoPaired {
		t.Error("first client should not trigger auto-pair")
	}
	if len(resp.Devices) != 0 {
		t.Errorf("Devices = %v, want empty for first client", resp.Devices)
	}

	c2 := &fakeClient{}
	resp2, autoPaired2 := h.DeviceSetup(c2, "Phone", "")
	if !autoPaired2 {
		t.Error("second client should trigger auto-pair")
	}
	if len(resp2.Devices) != 1 {
		t.Errorf("Devices = %v, want exactly the first client", resp2.Devices)
	}
}

func TestRouteFileTransferToLocalClient(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	engine := transfer.NewEngine(testLogger(), st, nil, nil)
	h := relay.NewHub(testLogger(), "node-a", st, engine, nil)

	sender := &fakeClient{}
	_, _ = h.DeviceSetup(sender, "Laptop", "")

	receiver := &fakeClient{}
	resp, _ := h.DeviceSetup(receiver, "Phone", "")

	msg := transfer.FileTransfer{StorageName: "x.png", DisplayName: "x.png", Mime: "image/png", ByteSize: 3}

	// resp here is the *receiver's* setup response, whose token is the
	// value other clients must address to reach it.
	if err := h.RouteFileTransfer(context.Background(), "sender-token", resp.ClientToken, msg); err != nil {
		t.Fatalf("RouteFileTransfer: %v", err)
	}

	if len(receiver.sent) != 1 {
		t.Fatalf("receiver got %d messages, want 1", len(receiver.sent))
	}
}

func TestRouteFileTransferToLocalClientSnapshotsOriginDisplayName(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	engine := transfer.NewEngine(testLogger(), st, nil, nil)
	h := relay.NewHub(testLogger(), "node-a", st, engine, nil)

	sender := &fakeClient{}
	senderResp, _ := h.DeviceSetup(sender, "Alice's Laptop", "")

	receiver := &fakeClient{}
	receiverResp, _ := h.DeviceSetup(receiver, "Phone", "")

	msg := transfer.FileTransfer{StorageName: "x.png", DisplayName: "x.png", Mime: "image/png", ByteSize: 3}
	if err := h.RouteFileTransfer(context.Background(), senderResp.ClientToken, receiverResp.ClientToken, msg); err != nil {
		t.Fatalf("RouteFileTransfer: %v", err)
	}

	got, err := st.TransferByStorageName(context.Background(), "x.png")
	if err != nil {
		t.Fatalf("TransferByStorageName: %v", err)
	}
	if got.OriginNameSnapshot != "Alice's Laptop" {
		t.Errorf("OriginNameSnapshot = %q, want %q", got.OriginNameSnapshot, "Alice's Laptop")
	}
}

func TestRouteFileTransferToPeer(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	engine := transfer.NewEngine(testLogger(), st, nil, nil)
	peers := newFakePeerSender()
	h := relay.NewHub(testLogger(), "node-a", st, engine, peers)

	msg := transfer.FileTransfer{StorageName: "x.png", DisplayName: "x.png", Mime: "image/png", ByteSize: 3}

	if err := h.RouteFileTransfer(context.Background(), "sender-token", "peer:node-b", msg); err != nil {
		t.Fatalf("RouteFileTransfer: %v", err)
	}

	if len(peers.sent["node-b"]) != 1 {
		t.Fatalf("peer node-b got %d messages, want 1", len(peers.sent["node-b"]))
	}
}

func TestSendRoutesChunkFrameToLocalClient(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	engine := transfer.NewEngine(testLogger(), st, nil, nil)
	h := relay.NewHub(testLogger(), "node-a", st, engine, nil)

	receiver := &fakeClient{}
	resp, _ := h.DeviceSetup(receiver, "Phone", "")

	start := transfer.ChunkStart{Type: transfer.TypeChunkStart, TransferID: "t1"}
	if err := h.Send(resp.ClientToken, start); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(receiver.sent) != 1 {
		t.Fatalf("receiver got %d messages, want 1", len(receiver.sent))
	}
}

func TestSendRoutesChunkFrameToPeer(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	engine := transfer.NewEngine(testLogger(), st, nil, nil)
	peers := newFakePeerSender()
	h := relay.NewHub(testLogger(), "node-a", st, engine, peers)

	start := transfer.ChunkStart{Type: transfer.TypeChunkStart, TransferID: "t1"}
	if err := h.Send("peer:node-b", start); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(peers.sent["node-b"]) != 1 {
		t.Fatalf("peer node-b got %d messages, want 1", len(peers.sent["node-b"]))
	}
}

func TestSendUnknownLocalTargetReturnsError(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	engine := transfer.NewEngine(testLogger(), st, nil, nil)
	h := relay.NewHub(testLogger(), "node-a", st, engine, nil)

	if err := h.Send("ghost-token", transfer.ChunkStart{TransferID: "t1"}); err == nil {
		t.Fatal("Send to unknown local target returned nil error, want error")
	}
}

func TestHandleRelayFileTransferPersistsAndForwards(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	engine := transfer.NewEngine(testLogger(), st, nil, nil)
	h := relay.NewHub(testLogger(), "node-a", st, engine, nil)

	client := &fakeClient{}
	resp, _ := h.DeviceSetup(client, "Laptop", "")

	msg := transfer.FileTransfer{StorageName: "y.png", DisplayName: "y.png", Mime: "image/png", ByteSize: 3}

	if err := h.HandleRelayFileTransfer(context.Background(), "node-b", resp.ClientToken, msg); err != nil {
		t.Fatalf("HandleRelayFileTransfer: %v", err)
	}

	if len(client.sent) != 1 {
		t.Fatalf("client got %d messages, want 1", len(client.sent))
	}

	got, err := st.TransferByStorageName(context.Background(), "y.png")
	if err != nil {
		t.Fatalf("TransferByStorageName: %v", err)
	}
	if got.OriginPeerID != "node-b" {
		t.Errorf("OriginPeerID = %q, want %q", got.OriginPeerID, "node-b")
	}
}

func TestPeerConnectedAndDisconnectedNotifyClients(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	engine := transfer.NewEngine(testLogger(), st, nil, nil)
	h := relay.NewHub(testLogger(), "node-a", st, engine, nil)

	client := &fakeClient{}
	_, _ = h.DeviceSetup(client, "Laptop", "")

	h.PeerConnected("node-b", "Phone")
	if len(client.sent) != 1 {
		t.Fatalf("client got %d messages after PeerConnected, want 1", len(client.sent))
	}

	h.PeerDisconnected("node-b")
	if len(client.sent) != 2 {
		t.Fatalf("client got %d messages after PeerDisconnected, want 2", len(client.sent))
	}
}
