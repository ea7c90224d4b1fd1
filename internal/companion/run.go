package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/comfort-companion/internal/capture"
	"github.com/ashureev/comfort-companion/internal/domain"
	"github.com/ashureev/comfort-companion/internal/playback"
	"github.com/ashureev/comfort-companion/internal/protocol"
	"github.com/google/uuid"
)

// run is the in-memory state of one session over one connection. All
// fields are owned by the goroutine executing Controller.Run.
type run struct {
	c         *Controller
	ctx       context.Context
	transport Transport
	logger    *slog.Logger

	capture *capture.Pipeline
	queue   *playback.Queue

	captureChanged  chan struct{}
	playbackChanged chan struct{}

	turn    Turn
	safety  domain.SafetyState
	message string
	started bool

	armTimer      *time.Timer
	armC          <-chan time.Time
	thinkingTimer *time.Timer
	thinkingC     <-chan time.Time
}

// Run drives one session over t until the session ends, the kill switch
// engages, the transport drops or ctx is cancelled. t is closed on return.
func (c *Controller) Run(ctx context.Context, t Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionID := uuid.NewString()
	r := &run{
		c:               c,
		ctx:             ctx,
		transport:       t,
		logger:          c.logger.With("session_id", sessionID),
		captureChanged:  make(chan struct{}, 1),
		playbackChanged: make(chan struct{}, 1),
		turn:            TurnIdle,
	}
	r.queue = playback.NewQueue(c.player, r.logger, func(bool) { signal(r.playbackChanged) })
	r.capture = capture.New(c.mic, r.sendChunk, c.cfg.Capture, r.logger, func(bool) { signal(r.captureChanged) })

	inbound := make(chan protocol.Inbound)
	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	defer func() {
		r.teardown()
		cancel()
		<-readDone
	}()

	safety, err := c.state.Safety(ctx)
	if err != nil {
		r.logger.Warn("Failed to read safety state, assuming normal", "error", err)
		safety = domain.SafetyNormal
	}
	if safety == domain.SafetyKillSwitch {
		close(readDone)
		r.turn = TurnSuspended
		r.safety = safety
		return ErrKillSwitch
	}
	r.safety = safety

	profile, err := c.state.Profile(ctx)
	if err != nil {
		close(readDone)
		return fmt.Errorf("load profile: %w", err)
	}

	go func() {
		defer close(readDone)
		r.readLoop(inbound, readErr)
	}()

	if err := t.Send(ctx, protocol.NewStartSession(profile.PatientName, profile.CaregiverName, profile.LifeStoryText)); err != nil {
		return fmt.Errorf("%w: send start_session: %v", ErrTransportClosed, err)
	}
	r.logger.Info("Session starting", "mode", c.cfg.CaptureMode.String(), "patient", profile.PatientName)
	r.setMessage("Connecting...")

	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case m := <-inbound:
			if err := r.handle(m); err != nil {
				return err
			}
		case err := <-readErr:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("Backend connection lost", "error", err)
			return fmt.Errorf("%w: %v", ErrTransportClosed, err)
		case <-r.captureChanged:
			r.onCaptureChanged()
		case <-r.playbackChanged:
			r.onPlaybackChanged()
		case <-r.armC:
			r.armC = nil
			r.arm()
		case <-r.thinkingC:
			r.thinkingC = nil
			r.onThinkingTimeout()
		case <-poll.C:
			if err := r.checkSession(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (r *run) readLoop(out chan<- protocol.Inbound, errc chan<- error) {
	for {
		data, err := r.transport.Receive(r.ctx)
		if err != nil {
			errc <- err
			return
		}
		m, err := protocol.Decode(data)
		if err != nil {
			r.logger.Warn("Dropping malformed frame", "error", err, "bytes", len(data))
			continue
		}
		if !m.Known() {
			r.logger.Debug("Ignoring unknown frame", "type", m.Type)
			continue
		}
		select {
		case out <- m:
		case <-r.ctx.Done():
			return
		}
	}
}

// sendChunk is the capture sink. It runs on the capture ticker goroutine.
func (r *run) sendChunk(ch capture.Chunk) {
	frame := protocol.NewAudioChunk(ch.Data)
	if ch.Mode == capture.Bounded {
		frame = protocol.NewAudioData(ch.Data)
	}
	if err := r.transport.Send(r.ctx, frame); err != nil && r.ctx.Err() == nil {
		r.logger.Debug("Failed to send audio chunk", "seq", ch.Seq, "error", err)
	}
}

func (r *run) handle(m protocol.Inbound) error {
	switch m.Type {
	case protocol.TypeSessionStarted:
		r.started = true
		r.setMessage("Connected")
		r.scheduleArm(r.c.cfg.GreetingDelay)

	case protocol.TypeListening:
		r.setMessage("Listening...")

	case protocol.TypeInterimTranscript:
		r.setMessage(m.Text)

	case protocol.TypeTranscript:
		if m.Text != "" {
			r.appendEntry(domain.SpeakerPatient, m.Text)
		}
		if r.turn != TurnSpeaking && r.turn != TurnSuspended {
			r.setTurn(TurnThinking)
			r.startThinking()
		}

	case protocol.TypeAudioResponse:
		r.onFragment(m)

	case protocol.TypeResponseEnd:
		r.stopThinking()
		if r.queue.Idle() && (r.turn == TurnThinking || r.turn == TurnSpeaking) {
			r.settle()
		}

	case protocol.TypeIntervention:
		tier, err := domain.SafetyFromTier(m.Tier)
		if err != nil {
			r.logger.Warn("Ignoring intervention", "tier", m.Tier, "error", err)
			return nil
		}
		r.safety = tier
		r.logger.Info("Intervention tier changed", "tier", tier.String(), "safety", tier.Label())
		if err := r.c.state.SetTier(r.ctx, tier); err != nil {
			r.logger.Warn("Failed to persist intervention tier", "error", err)
		}
		r.publish()

	case protocol.TypeKillSwitch:
		return r.kill(m.Message)

	case protocol.TypeError:
		r.logger.Warn("Backend reported error", "message", m.Message)
		r.setMessage(m.Message)

	}
	return nil
}

// onFragment stops listening before anything is queued so capture and
// playback are never active together.
func (r *run) onFragment(m protocol.Inbound) {
	r.cancelArm()
	r.stopThinking()
	r.capture.Stop()

	if m.Text != "" && m.ChunkIndex == 0 {
		r.appendEntry(domain.SpeakerCompanion, m.Text)
	}

	audio, err := m.DecodeAudio()
	if err != nil {
		r.logger.Warn("Skipping undecodable fragment", "chunk_index", m.ChunkIndex, "error", err)
		if r.queue.Idle() {
			r.settle()
		}
		return
	}
	r.queue.Enqueue(playback.Fragment{Audio: audio, Text: m.Text, ChunkIndex: m.ChunkIndex})
	r.setTurn(TurnSpeaking)
}

func (r *run) onCaptureChanged() {
	if r.capture.IsListening() || r.turn != TurnListening {
		r.publish()
		return
	}
	if err := r.capture.Failure(); err != nil {
		r.micUnavailable(err)
		r.setTurn(TurnIdle)
		return
	}
	// A bounded window closed on its own; wait for the reply.
	r.setTurn(TurnThinking)
	r.startThinking()
}

func (r *run) onPlaybackChanged() {
	if r.turn == TurnSpeaking && r.queue.Idle() {
		r.settle()
		return
	}
	r.publish()
}

// settle ends the companion's turn and re-arms capture after the settle
// delay.
func (r *run) settle() {
	if r.capture.IsListening() {
		r.setTurn(TurnListening)
		return
	}
	r.setTurn(TurnIdle)
	r.scheduleArm(r.c.cfg.SettleDelay)
}

func (r *run) onThinkingTimeout() {
	if r.turn != TurnThinking {
		return
	}
	r.logger.Info("No response from backend, listening again", "timeout", r.c.cfg.ThinkingTimeout)
	if r.capture.IsListening() {
		r.setTurn(TurnListening)
		return
	}
	r.setTurn(TurnIdle)
	r.scheduleArm(0)
}

// arm opens a capture window if nothing else holds the turn.
func (r *run) arm() {
	if !r.started || r.turn == TurnSuspended || r.turn == TurnSpeaking || !r.queue.Idle() || r.capture.IsListening() {
		return
	}
	err := r.capture.Start(r.ctx, r.c.cfg.CaptureMode)
	switch {
	case err == nil:
		r.message = ""
		r.setTurn(TurnListening)
	case errors.Is(err, capture.ErrAlreadyCapturing):
	case errors.Is(err, capture.ErrPermissionDenied):
		r.micUnavailable(err)
	default:
		r.logger.Error("Failed to start capture", "error", err)
		r.scheduleArm(r.c.cfg.PermissionRetryDelay)
	}
}

// micUnavailable surfaces a refused or lost microphone and retries after
// the fixed delay.
func (r *run) micUnavailable(err error) {
	r.logger.Warn("Microphone unavailable, retrying", "delay", r.c.cfg.PermissionRetryDelay, "error", err)
	r.setMessage("Microphone unavailable. Trying again shortly.")
	r.scheduleArm(r.c.cfg.PermissionRetryDelay)
}

func (r *run) kill(reason string) error {
	r.logger.Warn("Kill switch engaged", "reason", reason)
	r.cancelArm()
	r.stopThinking()
	r.queue.Flush()
	r.capture.Stop()
	r.safety = domain.SafetyKillSwitch
	r.turn = TurnSuspended
	r.message = "Paused for caregiver"
	if err := r.c.state.TripKillSwitch(r.ctx); err != nil {
		r.logger.Error("Failed to persist kill switch", "error", err)
	}
	note := "Kill switch engaged"
	if reason != "" {
		note += ": " + reason
	}
	r.appendEntry(domain.SpeakerSystem, note)
	r.publish()
	return ErrKillSwitch
}

// checkSession applies caregiver changes observed on the shared store.
func (r *run) checkSession() error {
	active, err := r.c.state.SessionActive(r.ctx)
	if err != nil {
		r.logger.Debug("Session poll failed", "error", err)
		return nil
	}
	killed, err := r.c.state.KillSwitch(r.ctx)
	if err != nil {
		r.logger.Debug("Kill switch poll failed", "error", err)
		return nil
	}
	if killed {
		return r.kill("set externally")
	}
	if !active {
		r.logger.Info("Session ended by caregiver")
		return ErrSessionEnded
	}
	return nil
}

func (r *run) teardown() {
	r.cancelArm()
	r.stopThinking()
	r.capture.Stop()
	r.queue.Close()
	if err := r.transport.Close(); err != nil {
		r.logger.Debug("Failed to close backend connection", "error", err)
	}
	if r.turn != TurnSuspended {
		r.turn = TurnIdle
		r.message = ""
	}
	r.c.publish(context.WithoutCancel(r.ctx), r.status())
	r.logger.Info("Session stopped", "turn", r.turn.String(), "played", r.queue.Stats().Played)
}

func (r *run) appendEntry(speaker domain.Speaker, text string) {
	entry := domain.TranscriptEntry{Speaker: speaker, Text: text}
	if err := r.c.state.AppendTranscript(r.ctx, entry); err != nil {
		r.logger.Warn("Failed to append transcript entry", "speaker", speaker, "error", err)
	}
}

func (r *run) scheduleArm(d time.Duration) {
	r.cancelArm()
	r.armTimer = time.NewTimer(d)
	r.armC = r.armTimer.C
}

func (r *run) cancelArm() {
	if r.armTimer != nil {
		r.armTimer.Stop()
	}
	r.armTimer = nil
	r.armC = nil
}

func (r *run) startThinking() {
	r.stopThinking()
	r.thinkingTimer = time.NewTimer(r.c.cfg.ThinkingTimeout)
	r.thinkingC = r.thinkingTimer.C
}

func (r *run) stopThinking() {
	if r.thinkingTimer != nil {
		r.thinkingTimer.Stop()
	}
	r.thinkingTimer = nil
	r.thinkingC = nil
}

func (r *run) setTurn(t Turn) {
	if r.turn != t {
		r.logger.Debug("Turn changed", "from", r.turn.String(), "to", t.String())
		r.turn = t
	}
	r.publish()
}

func (r *run) setMessage(msg string) {
	r.message = msg
	r.publish()
}

func (r *run) status() domain.StatusSnapshot {
	return domain.StatusSnapshot{
		Turn:      r.turn.String(),
		Listening: r.capture.IsListening(),
		Speaking:  r.queue.IsSpeaking(),
		Safety:    r.safety.Label(),
		Message:   r.message,
		UpdatedAt: time.Now(),
	}
}

func (r *run) publish() {
	r.c.publish(r.ctx, r.status())
}
