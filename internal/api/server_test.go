package api_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/relaymesh/relaymesh/internal/api"
	"github.com/relaymesh/relaymesh/internal/identity"
	"github.com/relaymesh/relaymesh/internal/relay"
	"github.com/relaymesh/relaymesh/internal/session"
	"github.com/relaymesh/relaymesh/internal/store"
	"github.com/relaymesh/relaymesh/internal/transfer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type noopSink struct{}

func (noopSink) TransferReceived(store.Transfer) {}

type noopSender struct{}

func (noopSender) Send(string, any) error { return nil }

func newTestServer(t *testing.T) *api.Server {
	t.Helper()

	srv, _ := newTestServerWithStore(t)
	return srv
}

func newTestServerWithStore(t *testing.T) (*api.Server, *store.Store) {
	t.Helper()

	logger := testLogger()

	st, err := store.Open(context.Background(), logger, t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ident, err := identity.Open(logger, t.TempDir())
	if err != nil {
		t.Fatalf("open identity: %v", err)
	}

	sess := session.NewManager(logger, ident.NodeID(), ident.DeviceName())
	engine := transfer.NewEngine(logger, st, noopSender{}, noopSink{})
	hub := relay.NewHub(logger, ident.NodeID(), st, engine, noopSender{})

	return api.New(logger, st, engine, hub, ident, sess), st
}

func TestHealthzOK(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("body = %q, want to contain ok", rec.Body.String())
	}
}

func TestListDevicesEmpty(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("body = %q, want []", rec.Body.String())
	}
}

func TestListTagsEmpty(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "null" {
		t.Fatalf("body = %q, want null", rec.Body.String())
	}
}

func TestDownloadUnknownFileReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/files/999/download", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSetDeviceEnabledTogglesAutoDialFlag(t *testing.T) {
	srv, st := newTestServerWithStore(t)
	ctx := context.Background()

	if err := st.UpsertPeerByID(ctx, store.Peer{PeerID: "peer-1", DisplayName: "A", EnabledByUser: true}); err != nil {
		t.Fatalf("UpsertPeerByID() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/api/devices/peer-1/enabled", strings.NewReader(`{"enabled":false}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body=%s", rec.Code, rec.Body.String())
	}

	got, err := st.GetPeer(ctx, "peer-1")
	if err != nil {
		t.Fatalf("GetPeer() error: %v", err)
	}
	if got.EnabledByUser {
		t.Error("EnabledByUser = true after PATCH enabled=false, want false")
	}
}

func TestSetDeviceEnabledUnknownPeerReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPatch, "/api/devices/ghost/enabled", strings.NewReader(`{"enabled":false}`))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body=%s", rec.Code, rec.Body.String())
	}
}
