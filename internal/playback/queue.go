// Package playback plays synthesized speech fragments one at a time, in
// arrival order.
package playback

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
)

// Player renders one encoded fragment to the speaker. Play returns when
// the fragment finished, failed, or ctx was cancelled.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// Fragment is one inbound piece of synthesized speech.
type Fragment struct {
	Audio      []byte
	Text       string
	ChunkIndex int
}

// Stats counts queue activity over its lifetime.
type Stats struct {
	Enqueued int64
	Played   int64
	Failed   int64
	Flushed  int64
}

// Queue is a FIFO of fragments drained by a single goroutine. It never
// plays two fragments at once and enqueue never interrupts playback.
type Queue struct {
	player     Player
	logger     *slog.Logger
	onSpeaking func(bool)

	mu            sync.Mutex
	pending       *list.List
	speaking      bool
	cancelCurrent context.CancelFunc
	stats         Stats

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue starts the drain goroutine. onSpeaking, if set, is called from
// that goroutine whenever the speaking flag flips; it must not block.
func NewQueue(player Player, logger *slog.Logger, onSpeaking func(bool)) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		player:     player,
		logger:     logger,
		onSpeaking: onSpeaking,
		pending:    list.New(),
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	q.wg.Add(1)
	go q.drain()
	return q
}

// Enqueue appends f. Playback starts immediately when idle.
func (q *Queue) Enqueue(f Fragment) {
	q.mu.Lock()
	q.pending.PushBack(f)
	q.stats.Enqueued++
	q.mu.Unlock()
	q.signal()
}

// Flush discards pending fragments and halts the one playing.
func (q *Queue) Flush() {
	q.mu.Lock()
	dropped := int64(q.pending.Len())
	q.pending.Init()
	if q.cancelCurrent != nil {
		q.cancelCurrent()
		dropped++
	}
	q.stats.Flushed += dropped
	q.mu.Unlock()
	if dropped > 0 {
		q.logger.Debug("Playback flushed", "dropped", dropped)
	}
	q.signal()
}

// IsSpeaking reports whether a fragment is being played.
func (q *Queue) IsSpeaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

// Idle reports whether nothing is playing or pending.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.speaking && q.pending.Len() == 0
}

// Len returns the number of fragments waiting to play.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Stats returns a copy of the activity counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Close flushes and stops the drain goroutine.
func (q *Queue) Close() {
	q.Flush()
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) notify(speaking bool) {
	if q.onSpeaking != nil {
		q.onSpeaking(speaking)
	}
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return
		}
		for q.playNext() {
		}
	}
}

// playNext plays the front fragment. It returns false once the queue is
// empty, after publishing the idle transition.
func (q *Queue) playNext() bool {
	q.mu.Lock()
	front := q.pending.Front()
	if front == nil || q.ctx.Err() != nil {
		wasSpeaking := q.speaking
		q.speaking = false
		q.mu.Unlock()
		if wasSpeaking {
			q.notify(false)
		}
		return false
	}
	q.pending.Remove(front)
	f := front.Value.(Fragment)
	playCtx, cancel := context.WithCancel(q.ctx)
	q.cancelCurrent = cancel
	started := !q.speaking
	q.speaking = true
	q.mu.Unlock()

	if started {
		q.notify(true)
	}

	err := q.player.Play(playCtx, f.Audio)
	halted := playCtx.Err() != nil
	cancel()

	q.mu.Lock()
	q.cancelCurrent = nil
	switch {
	case err == nil:
		q.stats.Played++
	case halted:
	default:
		q.stats.Failed++
	}
	q.mu.Unlock()

	if err != nil && !halted {
		q.logger.Warn("Skipping fragment after playback error", "chunk_index", f.ChunkIndex, "bytes", len(f.Audio), "error", err)
	}
	return true
}
