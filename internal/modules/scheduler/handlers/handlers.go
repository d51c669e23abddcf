// Package handlers provides HTTP handlers for trader session control.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/vkozlov/cryptofolio/internal/domain"
	"github.com/vkozlov/cryptofolio/internal/modules/scheduler"
)

// Handler handles trader session HTTP requests
type Handler struct {
	service *scheduler.Service
	log     zerolog.Logger
}

// NewHandler creates a new trader handler
func NewHandler(service *scheduler.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "trader").Logger(),
	}
}

// HandleStart starts the session's rebalance loop.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, started, err := h.service.StartSession(sessionID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := "started"
	if !started {
		status = "already_running"
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"session": state,
	})
}

// HandleStop stops the session's rebalance loop.
func (h *Handler) HandleStop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.service.StopSession(sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			h.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "stopped",
		"session": state,
	})
}

// HandleStatus returns the session's current state.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.service.Status(sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			h.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, state)
}

// HandleToggleDryRun updates the session's dry-run flag. Without a body
// the flag flips; mode "real" forces live trading, "test" forces dry-run.
func (h *Handler) HandleToggleDryRun(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body struct {
		Mode string `json:"mode"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	var state *domain.SessionState
	var err error
	switch body.Mode {
	case "", "flip":
		state, err = h.service.ToggleDryRun(sessionID)
	case "real":
		state, err = h.service.SetDryRun(sessionID, false)
	case "test":
		state, err = h.service.SetDryRun(sessionID, true)
	default:
		h.writeError(w, http.StatusBadRequest, "mode must be real, test or flip")
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			h.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"dry_run": state.DryRun,
	})
}

// HandleSetInterval updates the session's cycle interval. The body may
// split the interval across days/hours/minutes/seconds; they are summed.
func (h *Handler) HandleSetInterval(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var body struct {
		Days    int `json:"days"`
		Hours   int `json:"hours"`
		Minutes int `json:"minutes"`
		Seconds int `json:"seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	total := body.Days*86400 + body.Hours*3600 + body.Minutes*60 + body.Seconds

	state, err := h.service.SetInterval(sessionID, total)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			h.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"interval_seconds": state.IntervalSeconds,
	})
}

// HandleRebalance runs a single cycle immediately.
func (h *Handler) HandleRebalance(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	result, err := h.service.RunOnce(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// HandleHistory returns recent cycle results for the session.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	results, err := h.service.History(sessionID, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []domain.RunResult{}
	}

	h.writeJSON(w, http.StatusOK, results)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
