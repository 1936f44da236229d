package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

// Options tune a single WebSocket connection
type Options struct {
	BufferSize     int           // outbound messages queued per connection
	MaxMessageSize int64         // largest inbound message accepted
	WriteWait      time.Duration // deadline for one write
	PongWait       time.Duration // read deadline, extended by each pong
	PingInterval   time.Duration // must be shorter than PongWait
	AllowedOrigins []string      // empty or "*" allows any origin
}

// DefaultOptions returns the settings used when none are configured
func DefaultOptions() Options {
	return Options{
		BufferSize:     64,
		MaxMessageSize: 4 << 20,
		WriteWait:      5 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan *types.Outbound // FUNCTIONAL DISCOVERY: bounded so a slow reader cannot stall a room broadcast
	opts      Options
	ctx       context.Context    // For cancellation
	cancel    context.CancelFunc // For cleanup
	closeOnce sync.Once          // Ensure single close
}

// NewConnection wraps conn, assigns it a fresh id and starts its writer
func NewConnection(conn *websocket.Conn, opts Options) *Connection {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = DefaultOptions().WriteWait
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultOptions().PingInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		writeCh: make(chan *types.Outbound, opts.BufferSize),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	// Start the single writer goroutine
	go c.writeLoop()

	return c
}

// ID returns the connection id
func (c *Connection) ID() string {
	return c.id
}

// Done is closed once the connection has been closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Send queues msg without blocking. A full buffer drops the message.
func (c *Connection) Send(msg *types.Outbound) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
// and also owns the heartbeat so pings never interleave with data frames
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.writeCh:
			data, err := msg.Bytes()
			if err != nil {
				slog.Error("outbound encode failed", "connection", c.id, "event", msg.Event, "error", err)
				continue
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("write failed", "connection", c.id, "error", err)
				_ = c.Close()
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
	})
	return err
}
