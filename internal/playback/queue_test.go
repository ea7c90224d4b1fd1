package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingPlayer plays for a fixed duration and records play order and
// the peak number of concurrent plays.
type recordingPlayer struct {
	delay time.Duration
	fail  map[string]bool

	mu      sync.Mutex
	order   []string
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (p *recordingPlayer) Play(ctx context.Context, audio []byte) error {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		m := p.maxSeen.Load()
		if n <= m || p.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	p.mu.Lock()
	p.order = append(p.order, string(audio))
	p.mu.Unlock()

	if p.fail[string(audio)] {
		return errors.New("corrupt fragment")
	}
	select {
	case <-time.After(p.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *recordingPlayer) played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

type speakingLog struct {
	mu     sync.Mutex
	events []bool
}

func (l *speakingLog) record(v bool) {
	l.mu.Lock()
	l.events = append(l.events, v)
	l.mu.Unlock()
}

func (l *speakingLog) snapshot() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.events...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestQueuePlaysInOrderWithoutOverlap(t *testing.T) {
	player := &recordingPlayer{delay: 10 * time.Millisecond}
	var log speakingLog
	q := NewQueue(player, nil, log.record)
	defer q.Close()

	want := []string{"a", "b", "c", "d", "e"}
	for _, s := range want {
		q.Enqueue(Fragment{Audio: []byte(s)})
	}

	waitFor(t, 2*time.Second, func() bool { return q.Idle() && len(player.played()) == len(want) })

	got := player.played()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("play order = %v, want %v", got, want)
		}
	}
	if peak := player.maxSeen.Load(); peak != 1 {
		t.Fatalf("peak concurrent plays = %d, want 1", peak)
	}
	waitFor(t, time.Second, func() bool { return len(log.snapshot()) == 2 })
	events := log.snapshot()
	if !events[0] || events[1] {
		t.Fatalf("speaking transitions = %v, want [true false]", events)
	}
	if st := q.Stats(); st.Played != 5 || st.Enqueued != 5 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestQueueSkipsFailedFragments(t *testing.T) {
	player := &recordingPlayer{delay: time.Millisecond, fail: map[string]bool{"bad": true}}
	q := NewQueue(player, nil, nil)
	defer q.Close()

	q.Enqueue(Fragment{Audio: []byte("one")})
	q.Enqueue(Fragment{Audio: []byte("bad")})
	q.Enqueue(Fragment{Audio: []byte("two")})

	waitFor(t, 2*time.Second, func() bool { return q.Idle() && len(player.played()) == 3 })
	if got := player.played(); got[2] != "two" {
		t.Fatalf("play order = %v", got)
	}
	if st := q.Stats(); st.Failed != 1 || st.Played != 2 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestFlushEmptiesAndStops(t *testing.T) {
	player := &recordingPlayer{delay: time.Hour}
	var log speakingLog
	q := NewQueue(player, nil, log.record)
	defer q.Close()

	q.Enqueue(Fragment{Audio: []byte("long")})
	q.Enqueue(Fragment{Audio: []byte("next")})
	q.Enqueue(Fragment{Audio: []byte("last")})

	waitFor(t, time.Second, q.IsSpeaking)
	q.Flush()

	waitFor(t, time.Second, q.Idle)
	if q.Len() != 0 {
		t.Fatalf("Len() after flush = %d", q.Len())
	}
	if got := player.played(); len(got) != 1 || got[0] != "long" {
		t.Fatalf("played = %v, want only the halted fragment", got)
	}
	waitFor(t, time.Second, func() bool { return len(log.snapshot()) == 2 })
	if st := q.Stats(); st.Flushed != 3 {
		t.Fatalf("Flushed = %d, want 3", st.Flushed)
	}

	// The queue keeps working after a flush.
	player.delay = time.Millisecond
	q.Enqueue(Fragment{Audio: []byte("again")})
	waitFor(t, time.Second, func() bool { return len(player.played()) == 2 && q.Idle() })
}

func TestFlushWhileIdleIsNoop(t *testing.T) {
	var log speakingLog
	q := NewQueue(&recordingPlayer{}, nil, log.record)
	defer q.Close()

	q.Flush()
	time.Sleep(20 * time.Millisecond)
	if events := log.snapshot(); len(events) != 0 {
		t.Fatalf("speaking transitions on idle flush = %v", events)
	}
}
