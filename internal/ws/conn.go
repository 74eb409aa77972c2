package ws

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrHandleClosed is returned when sending on a closed handle.
	ErrHandleClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a peer does not drain its queue fast enough.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Socket is the part of *websocket.Conn used for writing. It exists to ease testing.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ConnOptions tunes a Conn.
type ConnOptions struct {
	// SendBuffer is the number of frames queued before Send fails.
	SendBuffer int
	// WriteWait is the time allowed to write one frame to the peer.
	WriteWait time.Duration
	// PingPeriod enables keepalive pings when positive. Pings only keep idle
	// NAT and proxy mappings open; no pong or read deadline is enforced, so a
	// silent peer is only noticed when a write fails.
	PingPeriod time.Duration
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

// Conn is the send handle of one upgraded socket. Frames queued with Send
// are written in order by a dedicated write pump.
type Conn struct {
	id     string
	socket Socket
	opts   ConnOptions
	send   chan []byte
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewConn wraps socket and starts its write pump.
func NewConn(id string, socket Socket, opts ConnOptions) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		id:     id,
		socket: socket,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
	go c.writePump()
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Send queues a text frame for the peer.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrHandleClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close sends a close frame with code and reason and closes the socket.
// Only the first call has an effect.
func (c *Conn) Close(code int, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	err := c.socket.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteWait))
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		// The peer closed first or the write pump already gave up.
		err = nil
	}

	if cerr := c.socket.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}

// IsClosed returns true if the handle is closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when the write pump exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// writePump pumps queued frames to the socket.
func (c *Conn) writePump() {
	defer close(c.done)

	var tick <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				// Close owns the close frame.
				return
			}
			_ = c.socket.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
				c.abandon()
				return
			}
		case <-tick:
			if err := c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				c.abandon()
				return
			}
		}
	}
}

// abandon marks the handle closed after a failed write so later sends are
// reported, and closes the socket to unblock the reader.
func (c *Conn) abandon() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	_ = c.socket.Close()
}
