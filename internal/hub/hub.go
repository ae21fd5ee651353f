// Package hub fans conversation change notifications out to websocket subscribers.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/metrics"
)

// Connection represents a single WebSocket subscriber of one conversation.
type Connection struct {
	ID             string
	ConversationID int64
	Conn           *websocket.Conn
	Send           chan []byte
	mu             sync.Mutex
}

// Hub manages all WebSocket subscribers.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// conversations maps conversation id to the set of subscribed connection IDs
	conversations map[int64]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *conversationMessage
	done       chan struct{}

	logger zerolog.Logger
	mu     sync.RWMutex
}

type conversationMessage struct {
	ConversationID int64
	Data           []byte
}

// New creates a new Hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		connections:   make(map[string]*Connection),
		conversations: make(map[int64]map[string]bool),
		register:      make(chan *Connection),
		unregister:    make(chan *Connection),
		broadcast:     make(chan *conversationMessage, 256),
		done:          make(chan struct{}),
		logger:        logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop. It returns when ctx is cancelled, closing
// every remaining connection's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				close(conn.Send)
				delete(h.connections, id)
				metrics.WebSocketConnections.Dec()
			}
			h.conversations = make(map[int64]map[string]bool)
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.conversations[conn.ConversationID] == nil {
				h.conversations[conn.ConversationID] = make(map[string]bool)
			}
			h.conversations[conn.ConversationID][conn.ID] = true
			h.mu.Unlock()
			metrics.WebSocketConnections.Inc()
			h.logger.Debug().Str("conn_id", conn.ID).Int64("conversation_id", conn.ConversationID).Msg("connection registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if subs := h.conversations[conn.ConversationID]; subs != nil {
					delete(subs, conn.ID)
					if len(subs) == 0 {
						delete(h.conversations, conn.ConversationID)
					}
				}
				close(conn.Send)
				metrics.WebSocketConnections.Dec()
			}
			h.mu.Unlock()
			h.logger.Debug().Str("conn_id", conn.ID).Msg("connection unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.conversations[msg.ConversationID] {
				conn, exists := h.connections[connID]
				if !exists {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					// Slow subscriber: drop it, it will resync on its next poll.
					h.logger.Warn().Str("conn_id", connID).Msg("connection buffer full, closing")
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a connection subscribed to conversationID.
func (h *Hub) NewConnection(ws *websocket.Conn, conversationID int64) *Connection {
	return &Connection{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Conn:           ws,
		Send:           make(chan []byte, 64),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues data for every subscriber of a conversation.
// It never blocks: when the queue is full the message is dropped.
func (h *Hub) Broadcast(conversationID int64, data []byte) {
	select {
	case h.broadcast <- &conversationMessage{ConversationID: conversationID, Data: data}:
	default:
		h.logger.Warn().Int64("conversation_id", conversationID).Msg("broadcast queue full, dropping notification")
	}
}

// BroadcastJSON sends a JSON message to all subscribers of a conversation.
func (h *Hub) BroadcastJSON(conversationID int64, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(conversationID, data)
	return nil
}

// NotifyChanged tells subscribers that a conversation changed.
func (h *Hub) NotifyChanged(conversationID, messageID int64, reason domain.ChangeReason) {
	n := domain.Notification{
		Type:           domain.NotificationConversationChanged,
		Ts:             time.Now().UnixMilli(),
		ConversationID: conversationID,
		MessageID:      messageID,
		Reason:         reason,
	}
	if err := h.BroadcastJSON(conversationID, n); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode notification")
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasSubscribers checks if a conversation has any active connections.
func (h *Hub) HasSubscribers(conversationID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conversations[conversationID]) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
