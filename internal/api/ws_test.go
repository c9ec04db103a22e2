package api_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestWebSocketDeviceSetupReturnsToken(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts)

	if err := conn.WriteJSON(map[string]any{"type": "device-setup", "display_name": "laptop", "client_uuid": "uuid-1"}); err != nil {
		t.Fatalf("write device-setup: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read setup-complete: %v", err)
	}

	if resp["type"] != "setup-complete" {
		t.Fatalf("type = %v, want setup-complete", resp["type"])
	}
	if resp["client_token"] == "" || resp["client_token"] == nil {
		t.Fatalf("client_token missing in response: %v", resp)
	}
}

func TestWebSocketChunkStartAcksOK(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts)

	if err := conn.WriteJSON(map[string]any{
		"type":         "chunk-start",
		"transfer_id":  "t-1",
		"storage_name": "big.bin",
		"display_name": "big.bin",
		"mime":         "application/octet-stream",
		"byte_size":    0,
		"total_chunks": 0,
	}); err != nil {
		t.Fatalf("write chunk-start: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var resp map[string]any
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read chunk-ack: %v", err)
	}

	if resp["status"] != "ok" {
		t.Fatalf("status = %v, want ok: %v", resp["status"], resp)
	}
}
