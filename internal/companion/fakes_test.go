package companion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/comfort-companion/internal/capture"
	"github.com/ashureev/comfort-companion/internal/domain"
	"github.com/ashureev/comfort-companion/internal/sessionstate"
	"github.com/ashureev/comfort-companion/internal/store"
)

var errFakeClosed = errors.New("fake transport closed")

// fakeTransport delivers frames pushed by the test and records sent ones.
type fakeTransport struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu   sync.Mutex
	sent []map[string]any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (f *fakeTransport) Send(_ context.Context, v any) error {
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case d := <-f.in:
		return d, nil
	case <-f.closed:
		return nil, errFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) push(frame string) {
	f.in <- []byte(frame)
}

func (f *fakeTransport) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		s, _ := m["type"].(string)
		types = append(types, s)
	}
	return types
}

func (f *fakeTransport) countSent(typ string) int {
	n := 0
	for _, s := range f.sentTypes() {
		if s == typ {
			n++
		}
	}
	return n
}

// fakeMic yields a small PCM frame every few milliseconds until closed.
type fakeMic struct {
	mu     sync.Mutex
	deny   int
	dead   int
	opens  int
	active int
}

func (m *fakeMic) Open(context.Context) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.deny > 0 {
		m.deny--
		return nil, capture.ErrPermissionDenied
	}
	if m.dead > 0 {
		// The device opens, then the stream ends at once.
		m.dead--
		return io.NopCloser(strings.NewReader("")), nil
	}
	m.active++
	return &micStream{mic: m, done: make(chan struct{})}, nil
}

func (m *fakeMic) stats() (opens, active int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.active
}

type micStream struct {
	mic  *fakeMic
	done chan struct{}
	once sync.Once
}

func (s *micStream) Read(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, io.EOF
	case <-time.After(3 * time.Millisecond):
	}
	n := copy(p, []byte("pcmpcmpcm"))
	return n, nil
}

func (s *micStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.mic.mu.Lock()
		s.mic.active--
		s.mic.mu.Unlock()
	})
	return nil
}

// fakePlayer records plays and blocks for delay per fragment.
type fakePlayer struct {
	delay time.Duration

	mu        sync.Mutex
	played    []string
	cancelled int
}

func (p *fakePlayer) Play(ctx context.Context, audio []byte) error {
	p.mu.Lock()
	p.played = append(p.played, string(audio))
	p.mu.Unlock()
	select {
	case <-time.After(p.delay):
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		p.cancelled++
		p.mu.Unlock()
		return ctx.Err()
	}
}

func (p *fakePlayer) snapshot() ([]string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...), p.cancelled
}

type statusLog struct {
	mu   sync.Mutex
	all  []domain.StatusSnapshot
	both bool
}

func (l *statusLog) observe(st domain.StatusSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st.Listening && st.Speaking {
		l.both = true
	}
	l.all = append(l.all, st)
}

func (l *statusLog) sawMessage(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, st := range l.all {
		if st.Message == msg {
			return true
		}
	}
	return false
}

func (l *statusLog) overlapped() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.both
}

type harness struct {
	kv        *store.MemoryStore
	state     *sessionstate.State
	ctrl      *Controller
	mic       *fakeMic
	player    *fakePlayer
	transport *fakeTransport
	statuses  *statusLog
	finished  chan struct{}
	result    error
	cancel    context.CancelFunc
}

func testConfig() Config {
	return Config{
		CaptureMode:          capture.Continuous,
		Capture:              capture.Config{ChunkInterval: 10 * time.Millisecond, BoundedWindow: 40 * time.Millisecond},
		GreetingDelay:        5 * time.Millisecond,
		SettleDelay:          10 * time.Millisecond,
		PermissionRetryDelay: 20 * time.Millisecond,
		ThinkingTimeout:      time.Second,
		PollInterval:         20 * time.Millisecond,
	}
}

func newHarness(t *testing.T, cfg Config, player *fakePlayer) *harness {
	t.Helper()
	kv := store.NewMemory(0)
	st := sessionstate.New(kv, nil)
	ctx := context.Background()
	if err := st.SetProfile(ctx, domain.Profile{PatientName: "Rose", CaregiverName: "Sam", LifeStoryText: "Sailed the coast"}); err != nil {
		t.Fatalf("SetProfile() error = %v", err)
	}
	if err := st.StartSession(ctx); err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if player == nil {
		player = &fakePlayer{delay: 5 * time.Millisecond}
	}
	h := &harness{
		kv:        kv,
		state:     st,
		mic:       &fakeMic{},
		player:    player,
		transport: newFakeTransport(),
		statuses:  &statusLog{},
		finished:  make(chan struct{}),
	}
	h.ctrl = NewController(st, h.mic, player, cfg, nil)
	h.ctrl.Subscribe(h.statuses.observe)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.result = h.ctrl.Run(ctx, h.transport)
		close(h.finished)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.finished:
		case <-time.After(2 * time.Second):
		}
	})
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-h.finished:
		return h.result
	case <-time.After(3 * time.Second):
		t.Fatal("controller did not stop")
		return nil
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func transcript(t *testing.T, st *sessionstate.State) []domain.TranscriptEntry {
	t.Helper()
	entries, err := st.Transcript(context.Background())
	if err != nil {
		t.Fatalf("Transcript() error = %v", err)
	}
	return entries
}
