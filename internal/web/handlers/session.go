package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/detection"
)

// SessionManager owns the single detection session.
type SessionManager interface {
	Start(ctx context.Context) (*detection.Session, error)
	Stop() (*detection.Session, error)
	Current() *detection.Session
}

// SessionHandler handles detection session endpoints
type SessionHandler struct {
	manager SessionManager
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(manager SessionManager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

// StartResponse is returned when a session fails to start.
type StartResponse struct {
	Error  string            `json:"error"`
	Status *detection.Status `json:"status,omitempty"`
}

// Start initializes and starts a session. It returns once the camera is
// open and the gallery is loaded, or initialization failed.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	session, err := h.manager.Start(r.Context())
	switch {
	case errors.Is(err, detection.ErrSessionRunning):
		st := session.Status()
		respondJSON(w, http.StatusConflict, StartResponse{Error: err.Error(), Status: &st})
		return
	case err != nil:
		resp := StartResponse{Error: err.Error()}
		if session != nil {
			st := session.Status()
			resp.Status = &st
		}
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	respondJSON(w, http.StatusOK, session.Status())
}

// Stop stops the running session and releases the camera.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	session, err := h.manager.Stop()
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, session.Status())
}

// Status returns the latest session's status, or an idle status when no
// session was ever started.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	session := h.manager.Current()
	if session == nil {
		respondJSON(w, http.StatusOK, detection.Status{State: detection.StateIdle})
		return
	}
	respondJSON(w, http.StatusOK, session.Status())
}

// Log returns the latest session's check-ins, oldest first.
func (h *SessionHandler) Log(w http.ResponseWriter, r *http.Request) {
	session := h.manager.Current()
	if session == nil {
		respondJSON(w, http.StatusOK, []detection.CheckIn{})
		return
	}
	log := session.Log()
	if log == nil {
		log = []detection.CheckIn{}
	}
	respondJSON(w, http.StatusOK, log)
}

// Events streams overlays, check-ins and state changes over SSE.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	session := h.manager.Current()
	if session == nil {
		respondError(w, http.StatusNotFound, detection.ErrNoSession.Error())
		return
	}
	streamSSEEvents(w, r, session)
}
