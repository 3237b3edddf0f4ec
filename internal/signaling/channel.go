package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send once a channel has been closed.
var ErrClosed = errors.New("signal channel closed")

const writeTimeout = 10 * time.Second

// Channel is a WebSocket-backed signal channel. Text frames are the signal
// messages; other frame types are ignored.
type Channel struct {
	conn *websocket.Conn

	writeMu sync.Mutex // gorilla allows one concurrent writer

	mu      sync.Mutex
	handler func([]byte)

	open      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newChannel(conn *websocket.Conn) *Channel {
	c := &Channel{conn: conn, done: make(chan struct{})}
	c.open.Store(true)
	return c
}

// IsOpen reports whether the connection is still usable.
func (c *Channel) IsOpen() bool { return c.open.Load() }

// Done is closed once the connection is gone.
func (c *Channel) Done() <-chan struct{} { return c.done }

// OnMessage registers the handler invoked for every inbound message.
func (c *Channel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}

// Send writes one message. The write deadline is the earlier of ctx's
// deadline and the default write timeout.
func (c *Channel) Send(ctx context.Context, raw []byte) error {
	if !c.IsOpen() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.shutdown()
		return fmt.Errorf("ws write: %w", err)
	}
	return nil
}

// Watch reads messages until the connection fails, either side closes it or
// ctx is cancelled. A normal close returns nil.
func (c *Channel) Watch(ctx context.Context) error {
	stop := context.AfterFunc(ctx, c.shutdown)
	defer stop()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			closedLocally := !c.IsOpen()
			c.shutdown()
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case closedLocally, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				return nil
			}
			return fmt.Errorf("ws read: %w", err)
		}
		if typ != websocket.TextMessage {
			continue
		}

		c.mu.Lock()
		fn := c.handler
		c.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

// Close sends a close frame (best effort) and releases the connection.
func (c *Channel) Close() error {
	if c.IsOpen() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	}
	c.shutdown()
	return nil
}

func (c *Channel) shutdown() {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
		_ = c.conn.Close()
	})
}
