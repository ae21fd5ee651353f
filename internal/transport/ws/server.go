// Package ws serves conversation change notifications over WebSocket.
package ws

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/clinichat/internal/domain"
	"github.com/xiaot623/clinichat/internal/hub"
)

// ConversationLookup resolves a conversation id before a subscription is accepted.
type ConversationLookup interface {
	GetConversation(ctx context.Context, conversationID int64) (*domain.Conversation, error)
}

// Options tunes connection keepalive.
type Options struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

func (o *Options) setDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
}

// Server handles WebSocket connections.
type Server struct {
	hub           *hub.Hub
	conversations ConversationLookup
	opts          Options
	upgrader      websocket.Upgrader
	logger        zerolog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(h *hub.Hub, conversations ConversationLookup, opts Options, logger zerolog.Logger) *Server {
	opts.setDefaults()
	s := &Server{
		hub:           h,
		conversations: conversations,
		opts:          opts,
		logger:        logger.With().Str("component", "ws").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// RegisterRoutes registers the subscription endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/conversations/:conversation_id/ws", s.HandleWebSocket)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return len(s.opts.AllowedOrigins) == 0
}

// HandleWebSocket validates the conversation and upgrades the connection.
func (s *Server) HandleWebSocket(c echo.Context) error {
	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil || conversationID <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "invalid conversation_id"})
	}
	conv, err := s.conversations.GetConversation(c.Request().Context(), conversationID)
	if err != nil || conv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"detail": "conversation not found"})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		return nil
	}

	conn := s.hub.NewConnection(ws, conversationID)
	s.hub.Register(conn)

	ws.SetReadLimit(s.opts.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump drains the connection so control frames are processed.
// Subscribers never send application messages.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("websocket closed")
			}
			return
		}
	}
}

// writePump writes notifications and pings to the connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug().Err(err).Str("conn_id", conn.ID).Msg("failed to write notification")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
