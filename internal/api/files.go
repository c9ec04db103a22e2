package api

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/relaymesh/relaymesh/internal/store"
)

type deviceDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	peers, err := s.store.ListPeers(r.Context())
	if err != nil {
		writeStatusError(w, err)
		return
	}

	devices := make([]deviceDTO, 0, len(peers))
	for _, p := range peers {
		if !p.IsOnline {
			continue
		}
		devices = append(devices, deviceDTO{ID: "peer:" + p.PeerID, Name: p.DisplayName})
	}

	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleSetDeviceEnabled(w http.ResponseWriter, r *http.Request) {
	peerID := r.PathValue("id")

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.SetPeerEnabled(r.Context(), peerID, req.Enabled); err != nil {
		writeStatusError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func transferDTO(t store.Transfer) map[string]any {
	return map[string]any{
		"id":                        t.ID,
		"storage_name":              t.StorageName,
		"display_name":              t.DisplayName,
		"mime":                      t.Mime,
		"byte_size":                 t.ByteSize,
		"origin_peer_id":            t.OriginPeerID,
		"destination_peer_id":       t.DestinationPeerID,
		"is_clipboard":              t.IsClipboard,
		"created_at":                t.CreatedAt.Format(time.RFC3339),
		"origin_name_snapshot":      t.OriginNameSnapshot,
		"destination_name_snapshot": t.DestinationNameSnapshot,
		"tags":                      t.Tags,
		"extra_metadata":            t.ExtraMetadata,
	}
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	transfers, err := s.store.ListTransfers(r.Context())
	if err != nil {
		writeStatusError(w, err)
		return
	}

	tag := r.URL.Query().Get("tag")

	out := make([]map[string]any, 0, len(transfers))
	for _, t := range transfers {
		if tag != "" && !hasTag(t.Tags, tag) {
			continue
		}
		out = append(out, transferDTO(t))
	}

	writeJSON(w, http.StatusOK, out)
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (s *Server) handleFilesForDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	transfers, err := s.store.ListTransfers(r.Context())
	if err != nil {
		writeStatusError(w, err)
		return
	}

	out := make([]map[string]any, 0)
	for _, t := range transfers {
		if t.OriginPeerID == deviceID || t.DestinationPeerID == deviceID || t.ConnectionRef == deviceID {
			out = append(out, transferDTO(t))
		}
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConnectionsForDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("deviceID")

	snapshots := s.sess.Sessions()
	out := make([]map[string]any, 0)
	for _, sn := range snapshots {
		if sn.PeerID == deviceID {
			out = append(out, map[string]any{"peer_id": sn.PeerID, "state": sn.State.String(), "host": sn.Host, "port": sn.Port})
		}
	}

	writeJSON(w, http.StatusOK, out)
}

type recordSentRequest struct {
	StorageName       string `json:"storage_name"`
	DisplayName       string `json:"display_name"`
	Mime              string `json:"mime"`
	ByteSize          int64  `json:"byte_size"`
	DestinationPeerID string `json:"destination_peer_id"`
	IsClipboard       bool   `json:"is_clipboard"`
}

func (s *Server) handleRecordSent(w http.ResponseWriter, r *http.Request) {
	var req recordSentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	t := store.Transfer{
		StorageName:       req.StorageName,
		DisplayName:       req.DisplayName,
		Mime:              req.Mime,
		ByteSize:          req.ByteSize,
		DestinationPeerID: req.DestinationPeerID,
		IsClipboard:       req.IsClipboard,
	}

	id, err := s.store.CreateTransfer(r.Context(), t)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	t.ID = id

	writeJSON(w, http.StatusCreated, transferDTO(t))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	storageName := header.Filename

	dst, err := s.store.OpenBlobForWrite(storageName)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	defer dst.Close()

	size, err := copyBody(dst, file)
	if err != nil {
		writeStatusError(w, err)
		return
	}

	t := store.Transfer{
		StorageName:        storageName,
		DisplayName:        header.Filename,
		Mime:               header.Header.Get("Content-Type"),
		ByteSize:           size,
		OriginNameSnapshot: header.Filename,
	}

	id, err := s.store.CreateTransfer(r.Context(), t)
	if err != nil {
		writeStatusError(w, err)
		return
	}
	t.ID = id

	writeJSON(w, http.StatusCreated, transferDTO(t))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	t, err := s.store.GetTransfer(r.Context(), id)
	if err != nil {
		writeStatusError(w, err)
		return
	}

	f, err := os.Open(s.store.BlobPath(t.StorageName))
	if err != nil {
		writeStatusError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(t.DisplayName))
	http.ServeContent(w, r, t.DisplayName, t.CreatedAt, f)
}

func (s *Server) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		OriginalName string `json:"originalName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.RenameTransfer(r.Context(), id, req.OriginalName); err != nil {
		writeStatusError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetagFile(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.SetTransferTags(r.Context(), id, req.Tags); err != nil {
		writeStatusError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.SetTransferMetadata(r.Context(), id, req.Metadata); err != nil {
		writeStatusError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	t, err := s.store.GetTransfer(r.Context(), id)
	if err != nil {
		writeStatusError(w, err)
		return
	}

	if err := s.store.DeleteTransfer(r.Context(), id); err != nil {
		writeStatusError(w, err)
		return
	}

	if t.StorageName != "" {
		_ = s.store.DeleteBlob(t.StorageName)
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func copyBody(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
