// Package transport owns the persistent websocket connection to the
// conversational backend.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
)

// DefaultReadLimit bounds a single inbound frame. Synthesized audio
// fragments arrive base64-encoded inside JSON.
const DefaultReadLimit = 8 << 20

// ErrClosed is returned by Receive and Send once the connection ended.
var ErrClosed = errors.New("transport: connection closed")

// State is the connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// Options configures Dial.
type Options struct {
	Header    http.Header
	ReadLimit int64
	Logger    *slog.Logger
}

// Conn is a JSON text-frame connection. Send may be called from any
// goroutine; Receive must be called from a single reader.
type Conn struct {
	ws     *websocket.Conn
	state  atomic.Int32
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to url. The returned Conn is Open.
func Dial(ctx context.Context, url string, opts *Options) (*Conn, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Conn{logger: logger}
	c.state.Store(int32(StateConnecting))

	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: opts.Header})
	if err != nil {
		c.state.Store(int32(StateErrored))
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	ws.SetReadLimit(limit)

	c.ws = ws
	c.state.Store(int32(StateOpen))
	logger.Info("Backend connection open", "url", url)
	return c, nil
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Send encodes v as JSON and writes it as one text frame.
func (c *Conn) Send(ctx context.Context, v any) error {
	if c.State() != StateOpen {
		return ErrClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		c.fail(err)
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive blocks for the next text frame. A normal close by the peer
// yields ErrClosed; any other failure moves the connection to Errored.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.state.Store(int32(StateClosed))
				return nil, ErrClosed
			}
			if c.State() == StateClosed {
				return nil, ErrClosed
			}
			c.fail(err)
			return nil, fmt.Errorf("read frame: %w", err)
		}
		if typ != websocket.MessageText {
			c.logger.Debug("Ignoring non-text frame", "bytes", len(data))
			continue
		}
		return data, nil
	}
}

func (c *Conn) fail(err error) {
	if c.state.CompareAndSwap(int32(StateOpen), int32(StateErrored)) {
		c.logger.Warn("Backend connection failed", "error", err)
	}
}

// Close ends the connection with a normal closure. Safe to call more than
// once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		prev := State(c.state.Swap(int32(StateClosed)))
		if prev == StateErrored {
			c.closeErr = c.ws.CloseNow()
			return
		}
		c.closeErr = c.ws.Close(websocket.StatusNormalClosure, "session ended")
	})
	return c.closeErr
}
