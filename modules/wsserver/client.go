package wsserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/example/presence-relay/modules/registry"
)

const writeWait = 10 * time.Second

// ErrSlowConsumer is returned when a client's send queue is full. The
// client is closed when this happens.
var ErrSlowConsumer = errors.New("send queue full")

// Client is one WebSocket connection. It implements registry.Transport:
// Send only enqueues, and a dedicated writer goroutine owns all writes.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger types.Logger

	writerDone chan struct{}
}

var _ registry.Transport = (*Client)(nil)

func newClient(conn *websocket.Conn, queueSize int, logger types.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:         id,
		conn:       conn,
		send:       make(chan []byte, queueSize),
		done:       make(chan struct{}),
		logger:     logger.With("conn", id),
		writerDone: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues frame for delivery without blocking.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return registry.ErrTransportClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.logger.Warn("Closing slow consumer", "queued", len(c.send))
		c.shutdown()
		return fmt.Errorf("%w: %w", registry.ErrTransportClosed, ErrSlowConsumer)
	}
}

// shutdown marks the client closed, wakes the writer and expires the read
// deadline so the reader returns. Closing a hijacked conn is a no-op while
// the handler runs. Safe to call from any goroutine, any number of times.
func (c *Client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.SetReadDeadline(time.Now())
		}
	})
}

// writePump drains the send queue onto the socket until the client is
// shut down. A failed write shuts the client down.
func (c *Client) writePump() {
	defer close(c.writerDone)

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			select {
			case <-c.done:
				return
			default:
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("Write failed, closing connection", "error", err)
				c.shutdown()
				return
			}
		}
	}
}
