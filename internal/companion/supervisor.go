package companion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/comfort-companion/internal/sessionstate"
	"github.com/sethvargo/go-retry"
)

// DefaultReconnectDelay is the wait before redialing a dropped backend.
const DefaultReconnectDelay = 3 * time.Second

// Dialer opens a fresh backend connection.
type Dialer func(ctx context.Context) (Transport, error)

// Supervisor watches the shared session flag and runs the controller
// while a session is active and the kill switch is clear.
type Supervisor struct {
	state          *sessionstate.State
	ctrl           *Controller
	dial           Dialer
	pollInterval   time.Duration
	reconnectDelay time.Duration
	logger         *slog.Logger
}

// NewSupervisor builds a supervisor. Zero durations take the defaults.
func NewSupervisor(state *sessionstate.State, ctrl *Controller, dial Dialer, pollInterval, reconnectDelay time.Duration, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = sessionstate.DefaultPollInterval
	}
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &Supervisor{
		state:          state,
		ctrl:           ctrl,
		dial:           dial,
		pollInterval:   pollInterval,
		reconnectDelay: reconnectDelay,
		logger:         logger,
	}
}

// Run blocks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	s.logger.Info("Companion supervisor started", "poll_interval", s.pollInterval, "reconnect_delay", s.reconnectDelay)

	for {
		if s.shouldRun(ctx) {
			if err := s.runSession(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Session run failed", "error", err)
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.logger.Info("Companion supervisor shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func (s *Supervisor) shouldRun(ctx context.Context) bool {
	active, err := s.state.SessionActive(ctx)
	if err != nil {
		s.logger.Warn("Session poll failed", "error", err)
		return false
	}
	if !active {
		return false
	}
	killed, err := s.state.KillSwitch(ctx)
	if err != nil {
		s.logger.Warn("Kill switch poll failed", "error", err)
		return false
	}
	return !killed
}

// runSession keeps a controller running for the current session, redialing
// after unexpected disconnects.
func (s *Supervisor) runSession(ctx context.Context) error {
	backoff := retry.NewConstant(s.reconnectDelay)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if !s.shouldRun(ctx) {
			return nil
		}
		t, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("Backend dial failed, retrying", "delay", s.reconnectDelay, "error", err)
			return retry.RetryableError(err)
		}
		err = s.ctrl.Run(ctx, t)
		switch {
		case err == nil, errors.Is(err, ErrSessionEnded), errors.Is(err, ErrKillSwitch):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrTransportClosed):
			s.logger.Info("Reconnecting to backend", "delay", s.reconnectDelay)
			return retry.RetryableError(err)
		}
		return err
	})
}
