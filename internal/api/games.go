package api

import (
	"net/http"

	"github.com/ashureev/comfort-companion/internal/domain"
	"github.com/go-chi/chi/v5"
)

// StartGame marks a mini-game as active.
func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	err := h.state.StartGame(r.Context(), gameID)
	body := map[string]any{"active_game": gameID}
	if name, ok := domain.GameName(gameID); ok {
		body["game_name"] = name
	}
	h.writeResult(w, err, body)
}

// EndGame logs the active mini-game and clears it.
func (h *Handler) EndGame(w http.ResponseWriter, r *http.Request) {
	entry, ok, err := h.state.EndGame(r.Context())
	if err == nil && !ok {
		Error(w, http.StatusNotFound, "no active game")
		return
	}
	h.writeResult(w, err, map[string]any{"entry": entry})
}

// GetGameLog returns every completed mini-game play.
func (h *Handler) GetGameLog(w http.ResponseWriter, r *http.Request) {
	log, err := h.state.GameLog(r.Context())
	if err != nil {
		h.writeResult(w, err, nil)
		return
	}
	if log == nil {
		log = []domain.GameSessionLog{}
	}
	JSON(w, http.StatusOK, map[string]any{"entries": log})
}
