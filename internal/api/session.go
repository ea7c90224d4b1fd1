package api

import (
	"net/http"

	"github.com/ashureev/comfort-companion/internal/domain"
)

// GetSession returns the polled session snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.state.Snapshot(r.Context())
	if err != nil {
		h.writeResult(w, err, nil)
		return
	}
	JSON(w, http.StatusOK, snap)
}

// StartSession activates a session unless the kill switch is set.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	err := h.state.StartSession(r.Context())
	if err == nil {
		h.logger.Info("Session started by caregiver")
	}
	h.writeResult(w, err, map[string]any{"active": err == nil || isWarning(err)})
}

// EndSession deactivates the session.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	err := h.state.EndSession(r.Context())
	if err == nil {
		h.logger.Info("Session ended by caregiver")
	}
	h.writeResult(w, err, map[string]any{"active": false})
}

// ResetKillSwitch clears the kill switch and returns the tier to normal.
func (h *Handler) ResetKillSwitch(w http.ResponseWriter, r *http.Request) {
	err := h.state.ResetKillSwitch(r.Context())
	if err == nil {
		h.logger.Info("Kill switch reset by caregiver")
	}
	h.writeResult(w, err, map[string]any{"safety": domain.SafetyNormal.Label()})
}

// GetTranscript returns the conversation log.
func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	entries, err := h.state.Transcript(r.Context())
	if err != nil {
		h.writeResult(w, err, nil)
		return
	}
	if entries == nil {
		entries = []domain.TranscriptEntry{}
	}
	JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ClearTranscript empties the conversation log.
func (h *Handler) ClearTranscript(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, h.state.ClearTranscript(r.Context()), nil)
}
