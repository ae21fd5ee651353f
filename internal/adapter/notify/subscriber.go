// Package notify listens to a conversation's change stream over websocket.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xiaot623/clinichat/internal/domain"
)

// Subscriber forwards change notifications for one conversation.
type Subscriber struct {
	url      string
	onChange func(domain.Notification)
	logger   zerolog.Logger
	dialer   *websocket.Dialer

	// Backoff is the delay before reconnecting after the stream drops.
	Backoff time.Duration
}

// NewSubscriber builds a subscriber for the store at apiURL (http or https).
func NewSubscriber(apiURL string, conversationID int64, onChange func(domain.Notification), logger zerolog.Logger) (*Subscriber, error) {
	wsURL, err := StreamURL(apiURL, conversationID)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		url:      wsURL,
		onChange: onChange,
		logger:   logger.With().Int64("conversation_id", conversationID).Logger(),
		dialer:   websocket.DefaultDialer,
		Backoff:  2 * time.Second,
	}, nil
}

// StreamURL returns the websocket endpoint for a conversation.
func StreamURL(apiURL string, conversationID int64) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/v1/conversations/%d/ws", conversationID)
	return u.String(), nil
}

// URL returns the stream endpoint.
func (s *Subscriber) URL() string {
	return s.url
}

// Run keeps a connection open until ctx is cancelled, reconnecting after
// failures.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		err := s.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Debug().Err(err).Dur("backoff", s.Backoff).Msg("change stream dropped")

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.Backoff):
		}
	}
}

func (s *Subscriber) listen(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	s.logger.Debug().Str("url", s.url).Msg("change stream connected")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var n domain.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			s.logger.Warn().Err(err).Msg("unreadable notification")
			continue
		}
		if n.Type != domain.NotificationConversationChanged {
			continue
		}
		if s.onChange != nil {
			s.onChange(n)
		}
	}
}
