package api

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		writeStatusError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleAddTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.store.AddTag(r.Context(), req.Name); err != nil {
		writeStatusError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")

	if err := s.store.DeleteTag(r.Context(), tag); err != nil {
		writeStatusError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
