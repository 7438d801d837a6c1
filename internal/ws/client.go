package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grievanceportal/internal/store"
	"grievanceportal/pkg/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Outbound frame buffer per connection
	sendBufferSize = 256
)

// MessageHandler processes one inbound frame from a connection. Handlers
// run synchronously on the connection's read loop, so frames from a single
// connection are always processed in arrival order.
type MessageHandler func(ctx context.Context, raw []byte)

// Client is a live connection bound to one authenticated identity, with
// zero or more group memberships.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	closing  sync.Once
	identity store.Identity
	// conversationID is set on chat connections, zero otherwise.
	conversationID int64
	onMessage      MessageHandler
	// groups is guarded by hub.mu.
	groups map[string]struct{}
	logger logging.Logger
}

// NewClient wraps an upgraded connection. onMessage may be nil for
// connections that only receive (notification clients).
func NewClient(hub *Hub, conn *websocket.Conn, identity store.Identity, conversationID int64, onMessage MessageHandler, logger logging.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		done:           make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		identity:       identity,
		conversationID: conversationID,
		onMessage:      onMessage,
		groups:         make(map[string]struct{}),
		logger:         logger,
	}
}

func (c *Client) UserID() int64 { return c.identity.ID }

func (c *Client) DisplayName() string { return c.identity.DisplayName() }

func (c *Client) Role() string { return c.identity.Role }

func (c *Client) ProfileImage() *string { return c.identity.ProfileImage }

func (c *Client) ConversationID() int64 { return c.conversationID }

// SetMessageHandler installs the inbound frame handler. Must be called
// before Start; the read pump reads it without synchronization.
func (c *Client) SetMessageHandler(h MessageHandler) { c.onMessage = h }

// Start launches the connection's read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// SendFrame queues a frame for delivery. It reports false when the client
// is closing or its buffer is full; a full buffer marks the client
// unresponsive and closes it.
func (c *Client) SendFrame(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case <-c.done:
		return false
	case c.send <- frame:
		return true
	default:
		// Slow consumer. Drop the frame and tear the connection down so it
		// cannot back-pressure broadcasts to other members.
		go c.Close()
		return false
	}
}

// Close removes the client from every group before freeing its resources.
// Safe to call multiple times and from any goroutine.
func (c *Client) Close() {
	c.closing.Do(func() {
		c.hub.LeaveAll(c)
		c.cancel()
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump pumps inbound frames from the connection to the message handler.
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).WithField("user_id", c.UserID()).Warn("WebSocket read error")
			}
			return
		}

		if c.onMessage == nil {
			// Receive-only connection; inbound frames are ignored.
			continue
		}
		c.onMessage(c.ctx, message)
	}
}

// writePump pumps queued frames to the connection and keeps it alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
