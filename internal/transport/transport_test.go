package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// newBackend starts a websocket server that hands each accepted
// connection to serve.
func newBackend(t *testing.T, serve func(ctx context.Context, ws *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept() error = %v", err)
			return
		}
		defer ws.CloseNow()
		serve(r.Context(), ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSendReceiveRoundTrip(t *testing.T) {
	url := newBackend(t, func(ctx context.Context, ws *websocket.Conn) {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		_ = ws.Write(ctx, typ, data)
		_ = ws.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3})
		_ = ws.Write(ctx, websocket.MessageText, []byte(`{"type":"response_end"}`))
		_, _, _ = ws.Read(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()
	if c.State() != StateOpen {
		t.Fatalf("State() = %v, want open", c.State())
	}

	if err := c.Send(ctx, map[string]string{"type": "start_session"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got, err := c.Receive(ctx)
	if err != nil || string(got) != `{"type":"start_session"}` {
		t.Fatalf("Receive() = %s, %v", got, err)
	}
	// The binary frame is skipped.
	got, err = c.Receive(ctx)
	if err != nil || string(got) != `{"type":"response_end"}` {
		t.Fatalf("Receive() after binary = %s, %v", got, err)
	}
}

func TestReceiveReportsPeerClose(t *testing.T) {
	url := newBackend(t, func(ctx context.Context, ws *websocket.Conn) {
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if _, err := c.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive() error = %v, want ErrClosed", err)
	}
	if c.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", c.State())
	}
	if err := c.Send(ctx, map[string]string{"type": "audio_chunk"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send() after close = %v, want ErrClosed", err)
	}
}

func TestReceiveReportsAbnormalClose(t *testing.T) {
	url := newBackend(t, func(ctx context.Context, ws *websocket.Conn) {
		_ = ws.Close(websocket.StatusInternalError, "backend crashed")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	_, err = c.Receive(ctx)
	if err == nil || errors.Is(err, ErrClosed) {
		t.Fatalf("Receive() error = %v, want abnormal failure", err)
	}
	if c.State() != StateErrored {
		t.Fatalf("State() = %v, want errored", c.State())
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, "ws://127.0.0.1:1/nowhere", nil); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestCloseIdempotent(t *testing.T) {
	url := newBackend(t, func(ctx context.Context, ws *websocket.Conn) {
		_, _, _ = ws.Read(ctx)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	first := c.Close()
	second := c.Close()
	if second != first {
		t.Fatalf("second Close() = %v, want %v", second, first)
	}
	if c.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", c.State())
	}
}
