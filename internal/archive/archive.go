// Package archive appends transcript entries to daily NDJSON files so a
// caregiver keeps a record after the shared log is cleared.
package archive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/comfort-companion/internal/domain"
)

// DefaultQueueSize bounds entries waiting to be written.
const DefaultQueueSize = 256

// Config configures an Archive.
type Config struct {
	Dir       string
	QueueSize int
}

// Stats are running counters.
type Stats struct {
	Written int64
	Dropped int64
	Failed  int64
}

// record is one NDJSON line.
type record struct {
	Time    string         `json:"time"`
	Speaker domain.Speaker `json:"speaker"`
	Text    string         `json:"text"`
}

// Archive writes entries from a single background goroutine. Record never
// blocks; when the queue is full the oldest pending entry is dropped.
type Archive struct {
	dir    string
	queue  chan domain.TranscriptEntry
	done   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	stats  Stats

	// owned by the writer goroutine
	file    *os.File
	fileDay string
}

// New creates the archive directory and starts the writer.
func New(cfg Config, logger *slog.Logger) (*Archive, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("archive: directory is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	a := &Archive{
		dir:    cfg.Dir,
		queue:  make(chan domain.TranscriptEntry, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go a.writeLoop()
	return a, nil
}

// Record queues entry for writing. It is a no-op after Close.
func (a *Archive) Record(entry domain.TranscriptEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- entry:
		return
	default:
	}
	// Full: drop the oldest to make room.
	select {
	case <-a.queue:
		a.stats.Dropped++
	default:
	}
	select {
	case a.queue <- entry:
	default:
		a.stats.Dropped++
	}
	a.logger.Warn("Transcript archive queue full, dropped oldest entry", "queue_len", len(a.queue))
}

// Close writes every queued entry and closes the current file.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	if a.file != nil {
		return a.file.Close()
	}
	return nil
}

// Stats returns a copy of the counters.
func (a *Archive) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// PathFor returns the file an entry stamped at t is written to.
func (a *Archive) PathFor(t time.Time) string {
	return filepath.Join(a.dir, t.Format(time.DateOnly)+".ndjson")
}

func (a *Archive) writeLoop() {
	defer close(a.done)
	for entry := range a.queue {
		err := a.write(entry)
		a.mu.Lock()
		if err != nil {
			a.stats.Failed++
		} else {
			a.stats.Written++
		}
		a.mu.Unlock()
		if err != nil {
			a.logger.Error("Failed to archive transcript entry", "error", err)
		}
	}
}

func (a *Archive) write(entry domain.TranscriptEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	day := ts.Format(time.DateOnly)
	if a.file == nil || a.fileDay != day {
		if a.file != nil {
			if err := a.file.Close(); err != nil {
				a.logger.Debug("Failed to close archive file", "day", a.fileDay, "error", err)
			}
		}
		f, err := os.OpenFile(a.PathFor(ts), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			a.file = nil
			return fmt.Errorf("open archive file: %w", err)
		}
		a.file, a.fileDay = f, day
	}

	line, err := json.Marshal(record{
		Time:    ts.Format(time.RFC3339Nano),
		Speaker: entry.Speaker,
		Text:    entry.Text,
	})
	if err != nil {
		return fmt.Errorf("encode archive entry: %w", err)
	}
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write archive entry: %w", err)
	}
	return nil
}
