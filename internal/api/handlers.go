package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goodtune/mindful/internal/settings"
	"github.com/goodtune/mindful/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, active := s.tracker.Session()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"session_active": active,
	})
}

func (s *Server) handleListLimits(w http.ResponseWriter, r *http.Request) {
	limits, err := s.settings.ListLimits(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list limits")
		WriteError(w, http.StatusInternalServerError, "Failed to retrieve limits")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"limits": limits,
		"count":  len(limits),
	})
}

func (s *Server) handleSetLimit(w http.ResponseWriter, r *http.Request) {
	var req LimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	limit, err := s.settings.SetLimit(r.Context(), chi.URLParam(r, "site"), req.Limit)
	if err != nil {
		s.writeSettingsError(w, err, "Failed to set limit")
		return
	}

	WriteJSON(w, http.StatusOK, limit)
}

func (s *Server) handleRemoveLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.RemoveLimit(r.Context(), chi.URLParam(r, "site")); err != nil {
		s.writeSettingsError(w, err, "Failed to remove limit")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetLimit(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.ResetLimit(r.Context(), chi.URLParam(r, "site")); err != nil {
		s.writeSettingsError(w, err, "Failed to reset limit")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := s.settings.ListQuotes(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list quotes")
		WriteError(w, http.StatusInternalServerError, "Failed to retrieve quotes")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"quotes": quotes})
}

func (s *Server) handleAddQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	quotes, err := s.settings.AddQuote(r.Context(), storage.Quote{Text: req.Text, Author: req.Author})
	if err != nil {
		s.writeSettingsError(w, err, "Failed to add quote")
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]interface{}{"quotes": quotes})
}

func (s *Server) handleRemoveQuote(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Quote index must be a number")
		return
	}

	quotes, err := s.settings.RemoveQuote(r.Context(), index)
	if err != nil {
		s.writeSettingsError(w, err, "Failed to remove quote")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"quotes": quotes})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.tracker.Session()
	if !ok {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"active":  true,
		"session": session,
	})
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	var req FocusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.tracker.OnFocusChange(r.Context(), req.URL, req.TabID)
	w.WriteHeader(http.StatusAccepted)
}

// writeSettingsError maps settings failures to status codes.
func (s *Server) writeSettingsError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, settings.ErrQuoteIndex):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, settings.ErrInvalidLimit), errors.Is(err, settings.ErrInvalidSite), errors.Is(err, storage.ErrInvalidQuote):
		WriteError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg(message)
		WriteError(w, http.StatusInternalServerError, message)
	}
}
