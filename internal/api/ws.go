package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relaymesh/relaymesh/internal/transfer"
)

var upgrader = websocket.Upgrader{
	// Loopback-only surface: the UI client and daemon always share a
	// host, so origin checking adds nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient adapts one WebSocket connection to relay.Client, serializing
// concurrent writes the way per-session writes are serialized in
// internal/session/manager.go.
type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsClient) Send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

type inboundEnvelope struct {
	Type string `json:"type"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	client := &wsClient{conn: conn}
	var clientToken string

	defer func() {
		if clientToken != "" {
			s.hub.DisconnectClient(clientToken)
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env inboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.logger.Debug("malformed websocket frame", slog.Any("error", err))
			continue
		}

		switch env.Type {
		case "device-setup":
			var req struct {
				DisplayName string `json:"display_name"`
				ClientUUID  string `json:"client_uuid"`
			}
			if err := json.Unmarshal(raw, &req); err != nil {
				continue
			}

			resp, _ := s.hub.DeviceSetup(client, req.DisplayName, req.ClientUUID)
			clientToken = resp.ClientToken
			_ = client.Send(resp)

		case transfer.TypeFileTransfer:
			var msg transfer.FileTransfer
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}

			if err := s.hub.RouteFileTransfer(r.Context(), clientToken, msg.Target, msg); err != nil {
				s.logger.Warn("route file-transfer failed", slog.Any("error", err))
			}

		case transfer.TypeChunkStart:
			var msg transfer.ChunkStart
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			_ = client.Send(s.engine.HandleChunkStart(msg))

		case transfer.TypeChunkData:
			var msg transfer.ChunkData
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			_ = client.Send(s.engine.HandleChunkData(msg))

		case transfer.TypeChunkEnd:
			var msg transfer.ChunkEnd
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			_ = client.Send(s.engine.HandleChunkEnd(r.Context(), s.identPeerID(), msg))

		default:
			s.logger.Debug("unhandled websocket message type", slog.String("type", env.Type))
		}
	}
}

// identPeerID is this daemon's own peer id, used as the origin when a
// local UI client initiates a chunk-end directly (a locally-originated
// chunked transfer has no remote peer origin).
func (s *Server) identPeerID() string {
	return s.ident.NodeID()
}
