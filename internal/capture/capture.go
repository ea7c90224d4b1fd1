// Package capture records microphone audio and emits it as fixed-interval
// chunks for streaming to the backend.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Defaults for Config.
const (
	DefaultChunkInterval  = 250 * time.Millisecond
	DefaultBoundedWindow  = 6 * time.Second
	DefaultReadBufferSize = 4096
	DefaultCodec          = "pcm_s16le;rate=16000;channels=1"
)

var (
	// ErrPermissionDenied is returned when the microphone is refused or
	// missing.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrAlreadyCapturing is returned by Start while a window is open.
	ErrAlreadyCapturing = errors.New("capture: already capturing")
)

// Microphone opens the raw input stream. Closing the stream releases the
// device.
type Microphone interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Mode selects how a capture window ends.
type Mode int

const (
	// Continuous windows run until Stop.
	Continuous Mode = iota
	// Bounded windows close on their own after Config.BoundedWindow.
	Bounded
)

func (m Mode) String() string {
	if m == Bounded {
		return "bounded"
	}
	return "continuous"
}

// ParseMode maps a config value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "continuous":
		return Continuous, nil
	case "bounded":
		return Bounded, nil
	}
	return 0, fmt.Errorf("unknown capture mode %q", s)
}

// Chunk is one slice of captured audio.
type Chunk struct {
	Data  []byte
	Codec string
	Mode  Mode
	Seq   int
	// Final marks the trailing partial chunk flushed at window close.
	Final bool
}

// Sink receives chunks in order. It is never called concurrently.
type Sink func(Chunk)

// Config tunes the pipeline. Zero fields take the defaults.
type Config struct {
	ChunkInterval  time.Duration
	BoundedWindow  time.Duration
	ReadBufferSize int
	Codec          string
}

func (c Config) withDefaults() Config {
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = DefaultChunkInterval
	}
	if c.BoundedWindow <= 0 {
		c.BoundedWindow = DefaultBoundedWindow
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Codec == "" {
		c.Codec = DefaultCodec
	}
	return c
}

// Pipeline owns at most one open capture window.
type Pipeline struct {
	mic         Microphone
	sink        Sink
	cfg         Config
	logger      *slog.Logger
	onListening func(bool)

	// lifecycle serializes Start and window teardown so a new window never
	// opens while the previous one is still flushing.
	lifecycle sync.Mutex

	mu      sync.Mutex
	win     *window
	failure error
}

// New builds a pipeline. onListening, if set, is called whenever a window
// opens or closes; it must not block.
func New(mic Microphone, sink Sink, cfg Config, logger *slog.Logger, onListening func(bool)) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		mic:         mic,
		sink:        sink,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		onListening: onListening,
	}
}

// IsListening reports whether a window is open.
func (p *Pipeline) IsListening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.win != nil
}

// Failure returns why the last window closed on its own, or nil when it
// was stopped, timed out or is still open. The microphone stream ending
// early is reported as ErrPermissionDenied.
func (p *Pipeline) Failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}

// Start opens the microphone and a capture window in the given mode.
func (p *Pipeline) Start(ctx context.Context, mode Mode) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.IsListening() {
		return ErrAlreadyCapturing
	}

	// Only lifecycle is held here; opening a device can be slow.
	stream, err := p.mic.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	w := newWindow(p, mode, stream)
	p.mu.Lock()
	p.win = w
	p.failure = nil
	if mode == Bounded {
		w.autoStop = time.AfterFunc(p.cfg.BoundedWindow, func() { p.closeWindow(w, "bounded window elapsed", nil) })
	}
	p.mu.Unlock()

	p.logger.Debug("Capture window opened", "mode", mode.String())
	p.notify(true)
	return nil
}

// Stop closes the open window, releases the microphone and flushes the
// trailing partial chunk. It is a no-op when idle.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	w := p.win
	p.mu.Unlock()
	if w != nil {
		p.closeWindow(w, "stopped", nil)
	}
}

// closeWindow closes w if it is still the open window. A non-nil failure
// is kept for Failure.
func (p *Pipeline) closeWindow(w *window, reason string, failure error) {
	p.lifecycle.Lock()
	p.mu.Lock()
	if p.win != w {
		p.mu.Unlock()
		p.lifecycle.Unlock()
		return
	}
	p.win = nil
	p.failure = failure
	p.mu.Unlock()

	w.close()
	p.lifecycle.Unlock()

	p.logger.Debug("Capture window closed", "mode", w.mode.String(), "reason", reason, "chunks", w.seq)
	p.notify(false)
}

func (p *Pipeline) notify(listening bool) {
	if p.onListening != nil {
		p.onListening(listening)
	}
}

type window struct {
	p        *Pipeline
	mode     Mode
	stream   io.ReadCloser
	ctx      context.Context
	cancel   context.CancelFunc
	autoStop *time.Timer
	wg       sync.WaitGroup

	mu  sync.Mutex
	buf []byte
	seq int
}

func newWindow(p *Pipeline, mode Mode, stream io.ReadCloser) *window {
	ctx, cancel := context.WithCancel(context.Background())
	w := &window{p: p, mode: mode, stream: stream, ctx: ctx, cancel: cancel}
	w.wg.Add(2)
	go w.read()
	go w.tick(ctx)
	return w
}

func (w *window) read() {
	defer w.wg.Done()
	buf := make([]byte, w.p.cfg.ReadBufferSize)
	for {
		n, err := w.stream.Read(buf)
		if n > 0 {
			w.mu.Lock()
			w.buf = append(w.buf, buf[:n]...)
			w.mu.Unlock()
		}
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			// The device went away while the window was open. close waits
			// on this goroutine, so tear down from a fresh one.
			w.p.logger.Warn("Microphone stream ended unexpectedly", "error", err)
			failure := fmt.Errorf("%w: microphone stream ended: %v", ErrPermissionDenied, err)
			go w.p.closeWindow(w, "microphone ended", failure)
			return
		}
	}
}

func (w *window) tick(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.p.cfg.ChunkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.emit(false)
		case <-ctx.Done():
			return
		}
	}
}

// emit hands the buffered bytes to the sink. Empty ticks send nothing.
func (w *window) emit(final bool) {
	w.mu.Lock()
	data := w.buf
	w.buf = nil
	w.mu.Unlock()
	if len(data) == 0 {
		return
	}
	w.seq++
	w.p.sink(Chunk{Data: data, Codec: w.p.cfg.Codec, Mode: w.mode, Seq: w.seq, Final: final})
}

func (w *window) close() {
	if w.autoStop != nil {
		w.autoStop.Stop()
	}
	w.cancel()
	if err := w.stream.Close(); err != nil {
		w.p.logger.Debug("Failed to close microphone stream", "error", err)
	}
	w.wg.Wait()
	w.emit(true)
}
