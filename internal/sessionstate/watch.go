package sessionstate

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/ashureev/comfort-companion/internal/domain"
)

// DefaultPollInterval is how often readers poll the shared store.
const DefaultPollInterval = time.Second

var watchedKeys = []string{
	KeySessionActive,
	KeySessionStart,
	KeyKillSwitch,
	KeyInterventionTier,
	KeyActiveGame,
	KeyGameStartTime,
	KeyCompanionStatus,
	KeyConversationLog,
}

// Snapshot is the polled view of the session-level keys.
type Snapshot struct {
	Active          bool                   `json:"active"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	KillSwitch      bool                   `json:"kill_switch"`
	Tier            string                 `json:"tier"`
	Safety          string                 `json:"safety"`
	ActiveGame      string                 `json:"active_game,omitempty"`
	GameStartedAt   *time.Time             `json:"game_started_at,omitempty"`
	Status          *domain.StatusSnapshot `json:"status,omitempty"`
	TranscriptCount int                    `json:"transcript_count"`
}

func (s *State) readWatched(ctx context.Context) (map[string]string, error) {
	return s.getMany(ctx, watchedKeys...)
}

func (s *State) buildSnapshot(values map[string]string) Snapshot {
	snap := Snapshot{
		Active:     values[KeySessionActive] == "true",
		KillSwitch: values[KeyKillSwitch] == "true",
		Tier:       values[KeyInterventionTier],
		ActiveGame: values[KeyActiveGame],
	}
	if snap.Tier == "" {
		snap.Tier = domain.SafetyNormal.String()
	}
	safety, err := domain.ParseSafetyState(snap.Tier)
	if err != nil {
		s.logger.Warn("Ignoring malformed intervention tier", "value", snap.Tier, "error", err)
		safety = domain.SafetyNormal
	}
	if snap.KillSwitch {
		safety = domain.SafetyKillSwitch
	}
	snap.Safety = safety.Label()

	if t, ok := parseMillis(values[KeySessionStart]); ok {
		snap.StartedAt = &t
	}
	if t, ok := parseMillis(values[KeyGameStartTime]); ok && snap.ActiveGame != "" {
		snap.GameStartedAt = &t
	}
	if raw := values[KeyCompanionStatus]; raw != "" {
		var st domain.StatusSnapshot
		if err := json.Unmarshal([]byte(raw), &st); err == nil {
			snap.Status = &st
		}
	}
	if raw := values[KeyConversationLog]; raw != "" {
		var entries []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &entries); err == nil {
			snap.TranscriptCount = len(entries)
		}
	}
	return snap
}

// Snapshot reads the session-level keys once.
func (s *State) Snapshot(ctx context.Context) (Snapshot, error) {
	values, err := s.readWatched(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return s.buildSnapshot(values), nil
}

// Watch polls the store every interval and calls onChange with the first
// reading and then whenever any session-level key changed. It blocks until
// ctx is done. Read errors are logged and the poll continues.
func (s *State) Watch(ctx context.Context, interval time.Duration, onChange func(Snapshot)) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last map[string]string
	poll := func() {
		values, err := s.readWatched(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("Session poll failed", "error", err)
			}
			return
		}
		if last != nil && maps.Equal(last, values) {
			return
		}
		last = values
		onChange(s.buildSnapshot(values))
	}

	poll()
	for {
		select {
		case <-ticker.C:
			poll()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
