package websocket

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/0xmhha/hellostorage-go/internal/constants"
	"github.com/0xmhha/hellostorage-go/service"
)

// Hub maintains the set of active clients and broadcasts events to them
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	logger *zap.Logger
}

var _ service.Notifier = (*Hub)(nil)

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, constants.DefaultWSSendBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run runs the hub until Stop is called
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client registered", zap.Int("total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client unregistered", zap.Int("total_clients", total))

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(client)
			}
			h.mu.Unlock()
			h.logger.Info("hub stopped")
			return
		}
	}
}

// removeLocked drops client and closes its send channel. h.mu must be held.
func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// broadcastEvent sends an event to all subscribed clients
func (h *Hub) broadcastEvent(event *Event) {
	eventData, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	messageBytes, err := json.Marshal(Message{Type: "event", Payload: eventData})
	if err != nil {
		h.logger.Error("failed to marshal message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sentCount := 0
	for client := range h.clients {
		if !client.IsSubscribed(event.Type) {
			continue
		}
		select {
		case client.send <- messageBytes:
			sentCount++
		default:
			h.logger.Warn("client buffer full, closing connection")
			h.removeLocked(client)
		}
	}

	h.logger.Debug("event broadcasted",
		zap.String("type", string(event.Type)),
		zap.Int("recipients", sentCount))
}

// Publish queues an event for broadcast; it is dropped when the queue is full
func (h *Hub) Publish(eventType SubscriptionType, data interface{}) {
	select {
	case h.broadcast <- &Event{Type: eventType, Data: data}:
	default:
		h.logger.Warn("broadcast channel full, dropping event", zap.String("type", string(eventType)))
	}
}

// NotifyMessageUpdated broadcasts a confirmed message change
func (h *Hub) NotifyMessageUpdated(update *service.MessageUpdate) {
	h.Publish(SubscribeMessageUpdated, update)
}

// NotifyHistoryRefreshed broadcasts a published history view
func (h *Hub) NotifyHistoryRefreshed(view *service.HistoryView) {
	h.Publish(SubscribeHistoryRefreshed, view)
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop stops the hub, closes all client connections and waits for Run to return
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	<-h.done
}
