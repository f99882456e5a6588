package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection wraps a gorilla connection with a single writer goroutine.
// All frames go through writeCh; only writeLoop calls WriteMessage.
type Connection struct {
	conn         *websocket.Conn
	id           string
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps conn under the server-assigned id and starts its writer.
func NewConnection(conn *websocket.Conn, id string, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		id:           id,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// Later Sends fail fast; the read pump notices the broken socket.
				c.cancel()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the server-assigned connection id.
func (c *Connection) ID() string {
	return c.id
}

// Send queues a pre-encoded frame without blocking. A full queue returns
// ErrSendBufferFull; the frame is dropped for this recipient only.
func (c *Connection) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Done is closed once the connection is closed or its writer has failed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
