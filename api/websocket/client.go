package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/0xmhha/hellostorage-go/internal/constants"
)

const (
	// Time allowed to write a message to the peer
	writeWait = constants.DefaultWSWriteTimeout

	// Time allowed to read the next pong message from the peer
	pongWait = constants.DefaultWSPongTimeout

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = constants.DefaultWSPingInterval

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Client represents a WebSocket client connection
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subscriptions map[SubscriptionType]bool
	mu            sync.RWMutex

	logger *zap.Logger
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:            id,
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, constants.DefaultWSSendBuffer),
		subscriptions: make(map[SubscriptionType]bool),
		logger:        logger.With(zap.String("client_id", id)),
	}
}

// ID returns the connection id used in logs
func (c *Client) ID() string {
	return c.id
}

// IsSubscribed checks if the client is subscribed to an event type
func (c *Client) IsSubscribed(eventType SubscriptionType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[eventType]
}

// Subscribe subscribes the client to an event type
func (c *Client) Subscribe(eventType SubscriptionType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[eventType] = true
}

// Unsubscribe unsubscribes the client from an event type
func (c *Client) Unsubscribe(eventType SubscriptionType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, eventType)
}

// ReadPump reads client requests until the connection fails
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// WritePump writes queued messages and pings to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleMessage handles incoming messages from the client
func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case "subscribe", "unsubscribe":
		var req SubscribeRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("invalid " + msg.Type + " request")
			return
		}
		if !req.Type.Valid() {
			c.sendError("invalid subscription type")
			return
		}
		if msg.Type == "subscribe" {
			c.Subscribe(req.Type)
			c.sendSuccess("subscribed to " + string(req.Type))
		} else {
			c.Unsubscribe(req.Type)
			c.sendSuccess("unsubscribed from " + string(req.Type))
		}
		c.logger.Debug("client subscription changed",
			zap.String("action", msg.Type),
			zap.String("type", string(req.Type)))
	case "ping":
		c.sendMessage(Message{Type: "pong"})
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

// sendMessage queues a message for the client.
// Replies race with the hub closing send on unregister, so they go through the hub lock.
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full, dropping message")
	}
}

func (c *Client) sendError(errMsg string) {
	payload, _ := json.Marshal(ErrorMessage{Error: errMsg})
	c.sendMessage(Message{Type: "error", Payload: payload})
}

func (c *Client) sendSuccess(message string) {
	payload, _ := json.Marshal(SuccessMessage{Message: message})
	c.sendMessage(Message{Type: "success", Payload: payload})
}
