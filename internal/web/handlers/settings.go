package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/settings"
)

// SettingsStore holds the current tunables.
type SettingsStore interface {
	Get() settings.Tunables
	Update(t settings.Tunables) error
	Reset() (settings.Tunables, error)
}

// SettingsHandler handles tunable endpoints
type SettingsHandler struct {
	store SettingsStore
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(store SettingsStore) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// Get returns the current tunables.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.store.Get())
}

// Update applies a partial update: keys missing from the body keep their
// current value. The new values apply to the next session.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	t := h.store.Get()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := t.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.Update(t); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Reset restores the defaults.
func (h *SettingsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Reset()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// Info describes every tunable with its range and default.
func (h *SettingsHandler) Info(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, settings.Describe())
}
