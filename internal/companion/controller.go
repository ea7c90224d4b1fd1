// Package companion runs the voice conversation: one controller goroutine
// owns the turn-taking state machine and drives capture and playback from
// backend events.
package companion

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/comfort-companion/internal/capture"
	"github.com/ashureev/comfort-companion/internal/domain"
	"github.com/ashureev/comfort-companion/internal/playback"
	"github.com/ashureev/comfort-companion/internal/sessionstate"
)

var (
	// ErrKillSwitch ends a run after the safety kill switch engaged.
	ErrKillSwitch = errors.New("companion: kill switch engaged")

	// ErrTransportClosed ends a run when the backend connection dropped.
	ErrTransportClosed = errors.New("companion: transport closed")

	// ErrSessionEnded ends a run when the caregiver ended the session.
	ErrSessionEnded = errors.New("companion: session ended")
)

// Turn is the conversational turn state.
type Turn int

const (
	TurnIdle Turn = iota
	TurnListening
	TurnThinking
	TurnSpeaking
	TurnSuspended
)

func (t Turn) String() string {
	switch t {
	case TurnIdle:
		return "idle"
	case TurnListening:
		return "listening"
	case TurnThinking:
		return "thinking"
	case TurnSpeaking:
		return "speaking"
	case TurnSuspended:
		return "suspended"
	}
	return "unknown"
}

// Transport is the backend connection a run drives.
type Transport interface {
	Send(ctx context.Context, v any) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Observer receives every status change. It is called from the controller
// goroutine and must not block.
type Observer func(domain.StatusSnapshot)

// Config tunes the controller's timing. Zero durations take the defaults.
type Config struct {
	CaptureMode          capture.Mode
	Capture              capture.Config
	GreetingDelay        time.Duration
	SettleDelay          time.Duration
	PermissionRetryDelay time.Duration
	ThinkingTimeout      time.Duration
	PollInterval         time.Duration
}

// Defaults for Config.
const (
	DefaultGreetingDelay        = 1500 * time.Millisecond
	DefaultSettleDelay          = 600 * time.Millisecond
	DefaultPermissionRetryDelay = 3 * time.Second
	DefaultThinkingTimeout      = 20 * time.Second
)

func (c Config) withDefaults() Config {
	if c.GreetingDelay <= 0 {
		c.GreetingDelay = DefaultGreetingDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.PermissionRetryDelay <= 0 {
		c.PermissionRetryDelay = DefaultPermissionRetryDelay
	}
	if c.ThinkingTimeout <= 0 {
		c.ThinkingTimeout = DefaultThinkingTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = sessionstate.DefaultPollInterval
	}
	return c
}

// Controller runs one session at a time over a given transport.
type Controller struct {
	state  *sessionstate.State
	mic    capture.Microphone
	player playback.Player
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	observers []Observer
	last      domain.StatusSnapshot
}

// NewController wires the controller to the shared state and devices.
func NewController(state *sessionstate.State, mic capture.Microphone, player playback.Player, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		state:  state,
		mic:    mic,
		player: player,
		cfg:    cfg.withDefaults(),
		logger: logger,
		last:   domain.StatusSnapshot{Turn: TurnIdle.String(), Safety: domain.SafetyNormal.Label()},
	}
}

// Subscribe registers an observer for status changes.
func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Status returns the most recent status.
func (c *Controller) Status() domain.StatusSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Controller) publish(ctx context.Context, st domain.StatusSnapshot) {
	c.mu.Lock()
	prev := c.last
	prev.UpdatedAt = st.UpdatedAt
	if prev == st {
		c.mu.Unlock()
		return
	}
	c.last = st
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o(st)
	}
	if err := c.state.SetStatus(ctx, st); err != nil && !errors.Is(err, sessionstate.ErrNotPersisted) {
		c.logger.Debug("Failed to persist companion status", "error", err)
	}
}
