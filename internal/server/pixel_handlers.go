package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/better-analytics/internal/pixel"
	"example.com/better-analytics/internal/relaystore"
)

const defaultMessageLimit = 50

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Tenant   string `json:"tenant"`
		Embedded bool   `json:"embedded"`
		URL      string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	rec, err := s.settings.Load(r.Context(), payload.Tenant)
	if err != nil {
		s.settingsError(w, payload.Tenant, err)
		return
	}
	sess, err := s.sessions.Open(rec.Tenant, payload.Embedded, pixel.Settings{MeasurementID: rec.MeasurementID}, payload.URL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "open session: %v", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id":     sess.ID,
		"tenant":         sess.Tenant,
		"embedded":       sess.Embedded,
		"measurement_id": sess.MeasurementID,
		"kinds":          sess.Kinds(),
	})
}

func (s *Server) handleSessionEvent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	var payload struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	acks := sess.Deliver(pixel.Event{Name: payload.Name, Location: payload.URL})
	writeJSON(w, http.StatusOK, map[string]any{"acks": acks})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Close(chi.URLParam(r, "sessionID")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCollect receives a cross-boundary relay message. The tenant comes from
// the X-Shop-Domain header set by the posting frame.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var msg pixel.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: %v", err)
		return
	}
	if strings.TrimSpace(msg.Type) == "" {
		writeError(w, http.StatusBadRequest, "type required")
		return
	}
	occurred := time.Now().UTC()
	if msg.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			occurred = ts
		}
	}
	tenant := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Shop-Domain")))

	stored, inserted, err := s.relay.InsertMessage(r.Context(), relaystore.Message{
		Tenant:        tenant,
		Type:          msg.Type,
		URL:           msg.URL,
		MeasurementID: msg.GA4ID,
		Source:        relaystore.SourceFrame,
		OccurredAt:    occurred,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store message: %v", err)
		return
	}
	s.logger.Info("relay message received", "tenant", tenant, "type", msg.Type, "url", msg.URL, "inserted", inserted, "dedupe_key", stored.DedupeKey)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleCollectMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	limit := parseIntDefault(r.URL.Query().Get("limit"), defaultMessageLimit)
	messages, err := s.relay.ListMessages(r.Context(), tenant, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list messages: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}
