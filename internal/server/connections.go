package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"rssmonitor/internal/model"
	"rssmonitor/internal/storage"
)

type connectionPayload struct {
	ID      int64         `json:"id,omitempty"`
	Service model.Service `json:"service"`
	Label   string        `json:"label"`
	Config  string        `json:"config"`
}

func toConnectionPayload(c model.Connection) connectionPayload {
	return connectionPayload{ID: c.ID, Service: c.Service, Label: c.Label, Config: c.Config}
}

func validService(s model.Service) bool {
	switch s {
	case model.ServiceDiscord, model.ServiceSlack, model.ServiceTelegram, model.ServiceEmail:
		return true
	}
	return false
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.store.ListConnections(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]connectionPayload, 0, len(conns))
	for _, c := range conns {
		out = append(out, toConnectionPayload(c))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var p connectionPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if !validService(p.Service) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unknown service %q", p.Service))
		return
	}
	conn := &model.Connection{Service: p.Service, Label: p.Label, Config: p.Config}
	if err := s.store.CreateConnection(r.Context(), conn); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, toConnectionPayload(*conn))
}

func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.store.GetConnection(r.Context(), pathID(r))
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toConnectionPayload(*conn))
}

func (s *Server) handleUpdateConnection(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if _, err := s.store.GetConnection(r.Context(), id); err != nil {
		respondStorageError(w, err)
		return
	}
	var p connectionPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if !validService(p.Service) {
		respondError(w, http.StatusBadRequest, fmt.Errorf("unknown service %q", p.Service))
		return
	}
	conn := &model.Connection{ID: id, Service: p.Service, Label: p.Label, Config: p.Config}
	if err := s.store.UpdateConnection(r.Context(), conn); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, toConnectionPayload(*conn))
}

func (s *Server) handleDeleteConnection(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteConnection(r.Context(), pathID(r)); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleTestConnection sends a test message through the connection
// without recording a delivery.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if _, err := s.store.GetConnection(r.Context(), id); err != nil {
		respondStorageError(w, err)
		return
	}

	msg := model.Message{
		Subject: "RSS Monitor test",
		Text:    "Test notification from RSS Monitor",
		HTML:    "<div>Test notification from RSS Monitor</div>",
	}
	if err := s.dispatcher.SendTest(r.Context(), model.Binding{ConnectionID: id}, msg); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := muxVar(r, "key")
	value, err := s.store.GetSetting(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	key := muxVar(r, "key")
	if err := s.store.SetSetting(r.Context(), key, body.Value); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"key": key, "value": body.Value})
}
