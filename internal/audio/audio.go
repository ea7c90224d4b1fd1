// Package audio provides the device-backed microphone and speaker used by
// the companion process. Both shell out to the ffmpeg tool suite.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/comfort-companion/internal/capture"
)

// Output format of FFmpegMicrophone.
const (
	SampleRateHz = 16000
	Channels     = 1
)

// FFmpegMicrophone captures the default input device as 16 kHz mono
// signed 16-bit little-endian PCM.
type FFmpegMicrophone struct {
	// Path is the ffmpeg binary. Empty means "ffmpeg" on PATH.
	Path string
	// Device overrides the platform input ("default" for pulse,
	// "none:0" for avfoundation).
	Device string
	// Command, when set, replaces ffmpeg with a shell command whose
	// stdout is the raw stream.
	Command string
	Logger  *slog.Logger
}

// Args returns the ffmpeg arguments for the current platform.
func (m *FFmpegMicrophone) Args() []string {
	format, device := "pulse", "default"
	if runtime.GOOS == "darwin" {
		// none:<index> avoids opening a camera.
		format, device = "avfoundation", "none:0"
	}
	if m.Device != "" {
		device = m.Device
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", format,
		"-i", device,
		"-ac", strconv.Itoa(Channels),
		"-ar", strconv.Itoa(SampleRateHz),
		"-f", "s16le",
		"-",
	}
}

// Open starts the capture process. Any failure to start is reported as
// capture.ErrPermissionDenied.
func (m *FFmpegMicrophone) Open(ctx context.Context) (io.ReadCloser, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(m.Command) != "" {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", m.Command)
	} else {
		path := m.Path
		if path == "" {
			path = "ffmpeg"
		}
		resolved, err := exec.LookPath(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", capture.ErrPermissionDenied, err)
		}
		cmd = exec.CommandContext(ctx, resolved, m.Args()...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("microphone stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start microphone: %v", capture.ErrPermissionDenied, err)
	}
	logger.Debug("Microphone process started", "pid", cmd.Process.Pid)
	return &processStream{ReadCloser: stdout, cmd: cmd, stderr: &stderr, logger: logger}, nil
}

// processStream releases the device by killing the capture process.
type processStream struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	logger *slog.Logger
	once   sync.Once
}

func (s *processStream) Close() error {
	s.once.Do(func() {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			s.logger.Debug("Microphone process output", "stderr", msg)
		}
	})
	return nil
}

// FFPlayPlayer plays each fragment with a fresh ffplay process reading
// the encoded fragment from stdin.
type FFPlayPlayer struct {
	// Path is the ffplay binary. Empty means "ffplay" on PATH.
	Path string
	// Volume is ffplay's startup volume, 0-100. Zero means 100.
	Volume int
}

// Args returns the ffplay arguments.
func (p *FFPlayPlayer) Args() []string {
	volume := p.Volume
	if volume <= 0 || volume > 100 {
		volume = 100
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nodisp",
		"-autoexit",
		"-volume", strconv.Itoa(volume),
		"-i", "pipe:0",
	}
}

// Play blocks until ffplay exits. Cancelling ctx kills the process.
func (p *FFPlayPlayer) Play(ctx context.Context, audio []byte) error {
	path := p.Path
	if path == "" {
		path = "ffplay"
	}
	cmd := exec.CommandContext(ctx, path, p.Args()...)
	cmd.Stdin = bytes.NewReader(audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("ffplay exited %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("ffplay: %w", err)
	}
	return nil
}

// SilentPlayer discards audio. It stands in for the speaker on headless
// hosts.
type SilentPlayer struct{}

// Play returns immediately.
func (SilentPlayer) Play(ctx context.Context, _ []byte) error {
	return ctx.Err()
}
