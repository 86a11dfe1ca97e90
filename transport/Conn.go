package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a Transport over a WebSocket connection. Conn supports one
// concurrent sender and one concurrent receiver.
type Conn struct {
	ws      *websocket.Conn
	timeout time.Duration // Receive timeout, 0 for none

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewConn returns a Transport over ws. Receive fails with ErrTimeout
// if no message arrives within timeout. A timeout of 0 waits forever.
func NewConn(ws *websocket.Conn, timeout time.Duration) *Conn {
	return &Conn{ws: ws, timeout: timeout}
}

// Dial connects to the game listening at url
func Dial(ctx context.Context, url string, timeout time.Duration) (*Conn,
	error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &Error{Op: "dial", Err: fmt.Errorf("%w: %v", ErrClosed,
			err)}
	}
	return NewConn(ws, timeout), nil
}

// Send sends m to the game
func (c *Conn) Send(ctx context.Context, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return &Error{Op: "send", Err: fmt.Errorf("%w: %v", ErrClosed, err)}
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &Error{Op: "send", Err: classify(err)}
	}
	return nil
}

// Receive waits for the next message from the game. A message which
// cannot be decoded is reported as ErrProtocol and leaves the
// connection usable. Timeouts and disconnects are permanent.
func (c *Conn) Receive(ctx context.Context) (Observation, error) {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.ws.SetReadDeadline(deadline); err != nil {
		return Observation{}, &Error{Op: "receive", Err: fmt.Errorf("%w: %v",
			ErrClosed, err)}
	}

	// Unblock the read if ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Observation{}, &Error{Op: "receive", Err: ctxErr}
		}
		return Observation{}, &Error{Op: "receive", Err: classify(err)}
	}
	if kind != websocket.TextMessage {
		return Observation{}, protocolError("unexpected message type %d",
			kind)
	}

	return Decode(data)
}

// Close closes the connection, telling the game that the agent is
// going away
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg,
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// classify maps a WebSocket error onto ErrTimeout or ErrClosed
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrClosed, err)
}
