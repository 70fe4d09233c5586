package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"rssmonitor/internal/events"
	"rssmonitor/internal/filter"
	"rssmonitor/internal/model"
	"rssmonitor/internal/scheduler"
	"rssmonitor/internal/storage"
)

// feedPayload is the wire representation of a feed for both requests and
// responses.
type feedPayload struct {
	ID              int64           `json:"id,omitempty"`
	Title           string          `json:"title"`
	URL             string          `json:"url"`
	IntervalMinutes int             `json:"interval_minutes"`
	Paused          bool            `json:"paused"`
	LastCheckedAt   *string         `json:"last_checked_at,omitempty"`
	FieldsToSend    []string        `json:"fields_to_send,omitempty"`
	Bindings        []model.Binding `json:"bindings,omitempty"`
	Filter          *model.Filter   `json:"filter,omitempty"`
}

func toFeedPayload(f model.Feed) feedPayload {
	p := feedPayload{
		ID:              f.ID,
		Title:           f.Title,
		URL:             f.URL,
		IntervalMinutes: f.IntervalMinutes,
		Paused:          f.Paused,
		FieldsToSend:    f.FieldsToSend,
		Bindings:        f.Bindings,
		Filter:          f.Filter,
	}
	if f.LastCheckedAt != nil {
		v := f.LastCheckedAt.UTC().Format("2006-01-02T15:04:05Z")
		p.LastCheckedAt = &v
	}
	return p
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.store.ListFeeds(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]feedPayload, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, toFeedPayload(f))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var p feedPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	feed, err := s.feedFromPayload(p)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.store.CreateFeed(r.Context(), feed); err != nil {
		if errors.Is(err, storage.ErrDuplicateURL) {
			respondError(w, http.StatusConflict, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.hub.Publish(events.Event{Type: events.FeedUpdate, FeedID: feed.ID})
	respondJSON(w, http.StatusCreated, toFeedPayload(*feed))
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	feed, err := s.store.GetFeed(r.Context(), id)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toFeedPayload(*feed))
}

func (s *Server) handleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	existing, err := s.store.GetFeed(r.Context(), id)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	var p feedPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	feed, err := s.feedFromPayload(p)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	feed.ID = id
	feed.LastCheckedAt = existing.LastCheckedAt

	if err := s.store.UpdateFeed(r.Context(), feed); err != nil {
		if errors.Is(err, storage.ErrDuplicateURL) {
			respondError(w, http.StatusConflict, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.hub.Publish(events.Event{Type: events.FeedUpdate, FeedID: id})
	respondJSON(w, http.StatusOK, toFeedPayload(*feed))
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := s.store.DeleteFeed(r.Context(), id); err != nil {
		respondStorageError(w, err)
		return
	}
	s.hub.Publish(events.Event{Type: events.FeedUpdate, FeedID: id})
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleToggleFeed(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	feed, err := s.store.GetFeed(r.Context(), id)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	if err := s.store.SetFeedPaused(r.Context(), id, !feed.Paused); err != nil {
		respondStorageError(w, err)
		return
	}
	s.hub.Publish(events.Event{Type: events.FeedUpdate, FeedID: id})
	respondJSON(w, http.StatusOK, map[string]bool{"paused": !feed.Paused})
}

func (s *Server) handleScanFeed(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	if err := s.sched.ScanFeed(r.Context(), id); err != nil {
		if errors.Is(err, scheduler.ErrScanInProgress) {
			respondError(w, http.StatusConflict, err)
			return
		}
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleScanAll(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.ScanAll(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

func (s *Server) handleFeedLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.store.ListFeedLogs(r.Context(), pathID(r), listLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (s *Server) handleFeedStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ListFeedStats(r.Context(), pathID(r), listLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleFeedDeliveries(w http.ResponseWriter, r *http.Request) {
	deliveries, err := s.store.ListDeliveries(r.Context(), pathID(r), listLimit(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, deliveries)
}

func (s *Server) feedFromPayload(p feedPayload) (*model.Feed, error) {
	if p.URL == "" {
		return nil, errors.New("url is required")
	}
	if p.IntervalMinutes == 0 {
		p.IntervalMinutes = s.defaultInterval
	}
	if p.IntervalMinutes < 1 || p.IntervalMinutes > 1440 {
		return nil, errors.New("interval_minutes must be between 1 and 1440")
	}
	if err := filter.Validate(p.Filter); err != nil {
		return nil, err
	}
	title := p.Title
	if title == "" {
		title = p.URL
	}
	return &model.Feed{
		Title:           title,
		URL:             p.URL,
		IntervalMinutes: p.IntervalMinutes,
		Paused:          p.Paused,
		FieldsToSend:    p.FieldsToSend,
		Bindings:        p.Bindings,
		Filter:          p.Filter,
	}, nil
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func listLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return 50
}
