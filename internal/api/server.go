// Package api implements the loopback-only HTTP/WebSocket surface a UI
// client speaks to. Routing follows the handler-registration shape of
// internal/server/server.go (a thin adapter delegating every call to a
// domain manager), adapted from ConnectRPC/protobuf to plain
// net/http + gorilla/websocket.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/relaymesh/relaymesh/internal/identity"
	"github.com/relaymesh/relaymesh/internal/relay"
	"github.com/relaymesh/relaymesh/internal/session"
	"github.com/relaymesh/relaymesh/internal/store"
	"github.com/relaymesh/relaymesh/internal/transfer"
)

// Server implements the HTTP/WebSocket surface.
type Server struct {
	logger *slog.Logger
	store  *store.Store
	engine *transfer.Engine
	hub    *relay.Hub
	ident  *identity.Store
	sess   *session.Manager
	mux    *http.ServeMux
}

// New constructs the API server and registers every route.
func New(logger *slog.Logger, st *store.Store, engine *transfer.Engine, hub *relay.Hub, ident *identity.Store, sess *session.Manager) *Server {
	s := &Server{
		logger: logger.With(slog.String("component", "api")),
		store:  st,
		engine: engine,
		hub:    hub,
		ident:  ident,
		sess:   sess,
		mux:    http.NewServeMux(),
	}

	s.routes()

	return s
}

// Handler returns the http.Handler to serve, ready to pass to
// http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.mux.HandleFunc("GET /api/devices", s.handleListDevices)
	s.mux.HandleFunc("PATCH /api/devices/{id}/enabled", s.handleSetDeviceEnabled)

	s.mux.HandleFunc("GET /api/files", s.handleListFiles)
	s.mux.HandleFunc("GET /api/files/{id}", s.handleFilesForDevice)
	s.mux.HandleFunc("POST /api/files/record-sent", s.handleRecordSent)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("GET /api/files/{id}/download", s.handleDownload)
	s.mux.HandleFunc("PATCH /api/files/{id}", s.handleRenameFile)
	s.mux.HandleFunc("PATCH /api/files/{id}/tags", s.handleRetagFile)
	s.mux.HandleFunc("PATCH /api/files/{id}/metadata", s.handleSetMetadata)
	s.mux.HandleFunc("DELETE /api/files/{id}", s.handleDeleteFile)

	s.mux.HandleFunc("GET /api/tags", s.handleListTags)
	s.mux.HandleFunc("POST /api/tags", s.handleAddTag)
	s.mux.HandleFunc("DELETE /api/tags/{tag}", s.handleDeleteTag)

	s.mux.HandleFunc("GET /api/connections/{deviceID}", s.handleConnectionsForDevice)

	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// writeStatusError maps a domain error to an HTTP status (storage I/O
// failures -> 500, unknown peer/transfer -> 404), the same
// switch-on-sentinel shape as mapManagerError, rehomed from
// connect.Code to http.StatusCode.
func writeStatusError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, store.ErrTransferNotFound), errors.Is(err, store.ErrPeerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateStorageName):
		status = http.StatusConflict
	}

	http.Error(w, err.Error(), status)
}
