// Package sessionstate maps the companion's shared state onto named keys
// of a store.KV. Both processes read and write through it; readers poll.
package sessionstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/comfort-companion/internal/domain"
	"github.com/ashureev/comfort-companion/internal/store"
)

// Persisted keys.
const (
	KeySessionActive    = "session-active"
	KeySessionStart     = "session-start"
	KeyKillSwitch       = "kill-switch"
	KeyInterventionTier = "intervention-tier"
	KeyConversationLog  = "conversation-log"
	KeyActiveGame       = "active-game"
	KeyGameStartTime    = "game-start-time"
	KeyGameLog          = "game-log"
	KeyPatientName      = "patient-name"
	KeyCaregiverName    = "caregiver-name"
	KeyLifeStory        = "life-story"
	KeyDiseaseStage     = "disease-stage"
	KeyCompanionConfig  = "companion-config"
	KeyPatientPhoto     = "patient-photo"
	KeyPatientVideos    = "patient-videos"
	KeyPatientMusic     = "patient-music"
	KeyCompanionStatus  = "companion-status"
)

var (
	// ErrNotPersisted means the value was accepted but only kept in this
	// process's memory because the store refused it.
	ErrNotPersisted = errors.New("sessionstate: value not persisted")

	// ErrKillSwitchActive is returned when a session is started while the
	// kill switch is set.
	ErrKillSwitchActive = errors.New("sessionstate: kill switch is active")

	// ErrUnknownGame is returned for game IDs outside the known set.
	ErrUnknownGame = errors.New("sessionstate: unknown game")
)

// State is the typed view over the shared store.
type State struct {
	kv     store.KV
	logger *slog.Logger
	now    func() time.Time

	// listMu serializes read-modify-write of JSON list values.
	listMu sync.Mutex

	overlayMu sync.RWMutex
	overlay   map[string]string

	onAppend func(domain.TranscriptEntry)
}

// New wraps kv. A nil logger uses slog.Default().
func New(kv store.KV, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		kv:      kv,
		logger:  logger,
		now:     time.Now,
		overlay: make(map[string]string),
	}
}

// OnTranscriptAppend registers fn to receive every appended entry,
// including ones kept only in memory. Call it before the State is shared;
// fn must not block.
func (s *State) OnTranscriptAppend(fn func(domain.TranscriptEntry)) {
	s.onAppend = fn
}

// Ping checks the backing store.
func (s *State) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

func (s *State) get(ctx context.Context, key string) (string, bool, error) {
	s.overlayMu.RLock()
	v, ok := s.overlay[key]
	s.overlayMu.RUnlock()
	if ok {
		return v, true, nil
	}
	return s.kv.Get(ctx, key)
}

func (s *State) getMany(ctx context.Context, keys ...string) (map[string]string, error) {
	values, err := s.kv.GetMany(ctx, keys...)
	if err != nil {
		return nil, err
	}
	s.overlayMu.RLock()
	defer s.overlayMu.RUnlock()
	for _, k := range keys {
		if v, ok := s.overlay[k]; ok {
			values[k] = v
		}
	}
	return values, nil
}

func (s *State) set(ctx context.Context, key, value string) error {
	err := s.kv.Set(ctx, key, value)
	if errors.Is(err, store.ErrQuotaExceeded) {
		s.overlayMu.Lock()
		s.overlay[key] = value
		s.overlayMu.Unlock()
		s.logger.Warn("Store quota exceeded, keeping value in memory", "key", key, "bytes", len(value))
		return fmt.Errorf("%s: %w", key, ErrNotPersisted)
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	s.overlayMu.Lock()
	delete(s.overlay, key)
	s.overlayMu.Unlock()
	return nil
}

func (s *State) del(ctx context.Context, key string) error {
	s.overlayMu.Lock()
	delete(s.overlay, key)
	s.overlayMu.Unlock()
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// notPersisted records an ErrNotPersisted warning in warn and reports any
// other error.
func notPersisted(warn *error, err error) error {
	if errors.Is(err, ErrNotPersisted) {
		*warn = err
		return nil
	}
	return err
}

func (s *State) getBool(ctx context.Context, key string) (bool, error) {
	v, _, err := s.get(ctx, key)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

func parseMillis(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// SessionActive reports the persisted session flag.
func (s *State) SessionActive(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeySessionActive)
}

// Session assembles the current session from the flag, start time and
// profile fields.
func (s *State) Session(ctx context.Context) (domain.Session, error) {
	values, err := s.getMany(ctx, KeySessionActive, KeySessionStart, KeyPatientName, KeyCaregiverName, KeyLifeStory)
	if err != nil {
		return domain.Session{}, err
	}
	started, _ := parseMillis(values[KeySessionStart])
	return domain.Session{
		Active:        values[KeySessionActive] == "true",
		StartedAt:     started,
		PatientName:   values[KeyPatientName],
		CaregiverName: values[KeyCaregiverName],
		LifeStoryText: values[KeyLifeStory],
	}, nil
}

// StartSession marks a session active, stamps its start time and clears
// the previous transcript. It refuses while the kill switch is set.
func (s *State) StartSession(ctx context.Context) error {
	killed, err := s.KillSwitch(ctx)
	if err != nil {
		return err
	}
	if killed {
		return ErrKillSwitchActive
	}
	var warn error
	if err := notPersisted(&warn, s.ClearTranscript(ctx)); err != nil {
		return err
	}
	if err := notPersisted(&warn, s.set(ctx, KeySessionStart, formatMillis(s.now()))); err != nil {
		return err
	}
	if err := notPersisted(&warn, s.set(ctx, KeySessionActive, "true")); err != nil {
		return err
	}
	return warn
}

// EndSession clears the session flag.
func (s *State) EndSession(ctx context.Context) error {
	return s.set(ctx, KeySessionActive, "false")
}

// KillSwitch reports whether the kill switch is set.
func (s *State) KillSwitch(ctx context.Context) (bool, error) {
	return s.getBool(ctx, KeyKillSwitch)
}

// TripKillSwitch persists the kill switch, sets the tier to kill and ends
// the session.
func (s *State) TripKillSwitch(ctx context.Context) error {
	var warn error
	if err := notPersisted(&warn, s.set(ctx, KeyKillSwitch, "true")); err != nil {
		return err
	}
	if err := notPersisted(&warn, s.set(ctx, KeyInterventionTier, domain.SafetyKillSwitch.String())); err != nil {
		return err
	}
	if err := notPersisted(&warn, s.EndSession(ctx)); err != nil {
		return err
	}
	return warn
}

// ResetKillSwitch is the caregiver reset: clears the flag and returns the
// tier to Normal.
func (s *State) ResetKillSwitch(ctx context.Context) error {
	if err := s.del(ctx, KeyKillSwitch); err != nil {
		return err
	}
	return s.set(ctx, KeyInterventionTier, domain.SafetyNormal.String())
}

// Safety returns the current safety state. A set kill switch wins over
// the stored tier.
func (s *State) Safety(ctx context.Context) (domain.SafetyState, error) {
	values, err := s.getMany(ctx, KeyKillSwitch, KeyInterventionTier)
	if err != nil {
		return 0, err
	}
	if values[KeyKillSwitch] == "true" {
		return domain.SafetyKillSwitch, nil
	}
	return domain.ParseSafetyState(values[KeyInterventionTier])
}

// SetTier persists an intervention tier. KillSwitch must go through
// TripKillSwitch.
func (s *State) SetTier(ctx context.Context, tier domain.SafetyState) error {
	if tier == domain.SafetyKillSwitch {
		return s.TripKillSwitch(ctx)
	}
	return s.set(ctx, KeyInterventionTier, tier.String())
}
