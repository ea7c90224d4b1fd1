package sessionstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/comfort-companion/internal/domain"
)

// AppendTranscript adds entry to the conversation log. A zero timestamp
// is stamped with the current time.
func (s *State) AppendTranscript(ctx context.Context, entry domain.TranscriptEntry) error {
	if !entry.Speaker.Valid() {
		return fmt.Errorf("append transcript: unknown speaker %q", entry.Speaker)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	s.listMu.Lock()
	defer s.listMu.Unlock()

	entries, err := s.transcriptLocked(ctx)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	err = s.setJSON(ctx, KeyConversationLog, entries)
	if s.onAppend != nil && (err == nil || errors.Is(err, ErrNotPersisted)) {
		s.onAppend(entry)
	}
	return err
}

// Transcript returns the conversation log in append order.
func (s *State) Transcript(ctx context.Context) ([]domain.TranscriptEntry, error) {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	return s.transcriptLocked(ctx)
}

func (s *State) transcriptLocked(ctx context.Context) ([]domain.TranscriptEntry, error) {
	var entries []domain.TranscriptEntry
	if err := s.getJSON(ctx, KeyConversationLog, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ClearTranscript empties the conversation log.
func (s *State) ClearTranscript(ctx context.Context) error {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	return s.del(ctx, KeyConversationLog)
}

// StartGame records gameID as the active mini-game.
func (s *State) StartGame(ctx context.Context, gameID string) error {
	if _, ok := domain.GameName(gameID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownGame, gameID)
	}
	var warn error
	if err := notPersisted(&warn, s.set(ctx, KeyGameStartTime, formatMillis(s.now()))); err != nil {
		return err
	}
	if err := notPersisted(&warn, s.set(ctx, KeyActiveGame, gameID)); err != nil {
		return err
	}
	return warn
}

// ActiveGame returns the running mini-game, if any.
func (s *State) ActiveGame(ctx context.Context) (gameID string, startedAt time.Time, ok bool, err error) {
	values, err := s.getMany(ctx, KeyActiveGame, KeyGameStartTime)
	if err != nil {
		return "", time.Time{}, false, err
	}
	gameID = values[KeyActiveGame]
	if gameID == "" {
		return "", time.Time{}, false, nil
	}
	startedAt, _ = parseMillis(values[KeyGameStartTime])
	return gameID, startedAt, true, nil
}

// EndGame appends a log entry for the active game and clears it. It
// returns false when no game was running.
func (s *State) EndGame(ctx context.Context) (domain.GameSessionLog, bool, error) {
	gameID, startedAt, ok, err := s.ActiveGame(ctx)
	if err != nil || !ok {
		return domain.GameSessionLog{}, false, err
	}
	now := s.now()
	if startedAt.IsZero() {
		startedAt = now
	}
	entry := domain.NewGameSessionLog(gameID, startedAt, now)

	s.listMu.Lock()
	var log []domain.GameSessionLog
	err = s.getJSON(ctx, KeyGameLog, &log)
	var warn error
	if err == nil {
		err = notPersisted(&warn, s.setJSON(ctx, KeyGameLog, append(log, entry)))
	}
	s.listMu.Unlock()
	if err != nil {
		return domain.GameSessionLog{}, false, err
	}

	if err := s.del(ctx, KeyActiveGame); err != nil {
		return entry, true, err
	}
	if err := s.del(ctx, KeyGameStartTime); err != nil {
		return entry, true, err
	}
	return entry, true, warn
}

// GameLog returns all completed mini-game plays.
func (s *State) GameLog(ctx context.Context) ([]domain.GameSessionLog, error) {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	var log []domain.GameSessionLog
	if err := s.getJSON(ctx, KeyGameLog, &log); err != nil {
		return nil, err
	}
	return log, nil
}

func (s *State) getJSON(ctx context.Context, key string, dst any) error {
	v, ok, err := s.get(ctx, key)
	if err != nil || !ok || v == "" {
		return err
	}
	if err := json.Unmarshal([]byte(v), dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *State) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.set(ctx, key, string(data))
}
