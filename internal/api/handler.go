// Package api provides HTTP handlers for the caregiver dashboard.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/comfort-companion/internal/sessionstate"
	"github.com/go-chi/chi/v5"
)

const notPersistedWarning = "Saved for this session only: storage is full."

// Handler serves the dashboard API over the shared session state.
type Handler struct {
	state         *sessionstate.State
	pollInterval  time.Duration
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a Handler. allowedOrigin gates the dashboard websocket
// outside development; "*" allows any origin.
func NewHandler(state *sessionstate.State, pollInterval time.Duration, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = sessionstate.DefaultPollInterval
	}
	return &Handler{
		state:         state,
		pollInterval:  pollInterval,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// RegisterRoutes mounts every dashboard route on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/session", h.GetSession)
		r.Post("/session/start", h.StartSession)
		r.Post("/session/end", h.EndSession)
		r.Post("/killswitch/reset", h.ResetKillSwitch)

		r.Get("/transcript", h.GetTranscript)
		r.Delete("/transcript", h.ClearTranscript)

		r.Post("/games/{gameID}/start", h.StartGame)
		r.Post("/games/end", h.EndGame)
		r.Get("/games/log", h.GetGameLog)

		r.Get("/profile", h.GetProfile)
		r.Put("/profile", h.PutProfile)
		r.Get("/companion", h.GetCompanion)
		r.Put("/companion", h.PutCompanion)

		r.Get("/media/photo", h.GetPhoto)
		r.Post("/media/photo", h.UploadPhoto)
		r.Get("/media/{kind}", h.GetMedia)
		r.Post("/media/{kind}", h.UploadMedia)
	})
	r.Get("/ws/dashboard", h.Feed)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// writeResult renders the outcome of a state mutation. Writes that only
// reached the in-memory fallback still succeed, with a warning.
func (h *Handler) writeResult(w http.ResponseWriter, err error, body map[string]any) {
	if body == nil {
		body = map[string]any{}
	}
	if _, ok := body["status"]; !ok {
		body["status"] = "ok"
	}
	switch {
	case err == nil:
		JSON(w, http.StatusOK, body)
	case errors.Is(err, sessionstate.ErrNotPersisted):
		body["warning"] = notPersistedWarning
		JSON(w, http.StatusOK, body)
	case errors.Is(err, sessionstate.ErrKillSwitchActive):
		Error(w, http.StatusConflict, "kill switch is active; reset it before starting a session")
	case errors.Is(err, sessionstate.ErrUnknownGame):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, sessionstate.ErrMediaTooLarge):
		JSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": err.Error(), "warning": "File is too large to store."})
	default:
		h.logger.Error("Dashboard request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
