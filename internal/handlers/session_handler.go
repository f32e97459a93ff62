package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"kidvoice/internal/logger"
	"kidvoice/internal/models"
	"kidvoice/internal/service"
	"kidvoice/internal/validation"
)

// SummaryProvider produces and looks up parent summaries
type SummaryProvider interface {
	Summarize(ctx context.Context, sessionID string) (*models.SessionSummary, error)
	GetSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)
}

// SessionHandler serves the session lifecycle endpoints
type SessionHandler struct {
	voice     VoiceService
	summaries SummaryProvider
	logger    *zap.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(voice VoiceService, summaries SummaryProvider, l *zap.Logger) *SessionHandler {
	return &SessionHandler{
		voice:     voice,
		summaries: summaries,
		logger:    logger.OrNop(l).Named("sessions"),
	}
}

func (h *SessionHandler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if err := validation.ValidateID("session_id", id); err != nil {
		var verr validation.ValidationError
		if errors.As(err, &verr) {
			respondWithValidation(w, verr)
		} else {
			respondWithError(w, h.logger, http.StatusBadRequest, err.Error(), "", nil)
		}
		return "", false
	}
	return id, true
}

// End handles POST /api/sessions/{id}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := h.voice.EndSession(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			respondWithError(w, h.logger, http.StatusNotFound, ErrSessionNotFound, "", nil)
			return
		}
		respondWithError(w, h.logger, http.StatusInternalServerError, ErrInternalServerError, "failed to end session", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Summarize handles POST /api/sessions/{id}/summary
func (h *SessionHandler) Summarize(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	summary, err := h.summaries.Summarize(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			respondWithError(w, h.logger, http.StatusNotFound, ErrSessionNotFound, "", nil)
			return
		}
		respondWithError(w, h.logger, http.StatusInternalServerError, ErrInternalServerError, "failed to summarize session", err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}

// GetSummary handles GET /api/sessions/{id}/summary
func (h *SessionHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	summary, err := h.summaries.GetSummary(r.Context(), id)
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		respondWithError(w, h.logger, http.StatusNotFound, ErrSessionNotFound, "", nil)
	case err != nil:
		respondWithError(w, h.logger, http.StatusInternalServerError, ErrInternalServerError, "failed to load summary", err)
	case summary == nil:
		respondWithError(w, h.logger, http.StatusNotFound, ErrSummaryNotFound, "", nil)
	default:
		respondWithJSON(w, http.StatusOK, summary)
	}
}
