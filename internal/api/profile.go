package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/comfort-companion/internal/domain"
	"github.com/ashureev/comfort-companion/internal/sessionstate"
)

// GetProfile returns the patient profile.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.state.Profile(r.Context())
	if err != nil {
		h.writeResult(w, err, nil)
		return
	}
	JSON(w, http.StatusOK, p)
}

// PutProfile replaces the patient profile.
func (h *Handler) PutProfile(w http.ResponseWriter, r *http.Request) {
	var p domain.Profile
	if err := decodeBody(w, r, &p); err != nil {
		Error(w, http.StatusBadRequest, "invalid profile: "+err.Error())
		return
	}
	if !p.DiseaseStage.Valid() {
		Error(w, http.StatusBadRequest, "disease_stage must be early, middle, late or empty")
		return
	}
	h.writeResult(w, h.state.SetProfile(r.Context(), p), map[string]any{"profile": p})
}

// GetCompanion returns the companion persona.
func (h *Handler) GetCompanion(w http.ResponseWriter, r *http.Request) {
	cfg, ok, err := h.state.CompanionConfig(r.Context())
	if err != nil {
		h.writeResult(w, err, nil)
		return
	}
	if !ok {
		Error(w, http.StatusNotFound, "companion persona not configured")
		return
	}
	JSON(w, http.StatusOK, cfg)
}

// PutCompanion replaces the companion persona.
func (h *Handler) PutCompanion(w http.ResponseWriter, r *http.Request) {
	var cfg domain.CompanionConfig
	if err := decodeBody(w, r, &cfg); err != nil {
		Error(w, http.StatusBadRequest, "invalid companion persona: "+err.Error())
		return
	}
	if cfg.VoiceStyle == "" {
		Error(w, http.StatusBadRequest, "voice_style is required")
		return
	}
	h.writeResult(w, h.state.SetCompanionConfig(r.Context(), cfg), map[string]any{"companion": cfg})
}

func isWarning(err error) bool {
	return errors.Is(err, sessionstate.ErrNotPersisted)
}
