package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	defaultTurnsLimit = 20
	maxTurnsLimit     = 200
)

// settingsPatch lets clients change one flag without resending the other.
type settingsPatch struct {
	SpeakResponse      *bool `json:"speak_response"`
	WakeRequiresHeadUp *bool `json:"wake_requires_head_up"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	if s.settings == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "settings store not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.settings.Get(userID))
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	if s.settings == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "settings store not configured")
		return
	}
	var patch settingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	next := s.settings.Get(userID)
	if patch.SpeakResponse != nil {
		next.SpeakResponse = *patch.SpeakResponse
	}
	if patch.WakeRequiresHeadUp != nil {
		next.WakeRequiresHeadUp = *patch.WakeRequiresHeadUp
	}
	if err := s.settings.Put(userID, next); err != nil {
		respondError(w, http.StatusInternalServerError, "settings_write_failed", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("settings_updated").Inc()
	respondJSON(w, http.StatusOK, next)
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	if userID == "" {
		respondError(w, http.StatusBadRequest, "invalid_user_id", "missing user id")
		return
	}
	if s.turns == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn log not configured")
		return
	}

	limit := defaultTurnsLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxTurnsLimit)
	}

	turns, err := s.turns.RecentTurns(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "turn_log_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"turns":   turns,
	})
}
