package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/clinichat/internal/domain"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestHubNotifyOnlyReachesConversation(t *testing.T) {
	h := startHub(t)

	a := h.NewConnection(nil, 1)
	b := h.NewConnection(nil, 2)
	h.Register(a)
	h.Register(b)
	waitFor(t, func() bool { return h.ConnectionCount() == 2 })
	assert.True(t, h.HasSubscribers(1))

	h.NotifyChanged(1, 7, domain.ChangeReasonTranslationFilled)

	select {
	case data := <-a.Send:
		var n domain.Notification
		require.NoError(t, json.Unmarshal(data, &n))
		assert.Equal(t, domain.NotificationConversationChanged, n.Type)
		assert.Equal(t, int64(1), n.ConversationID)
		assert.Equal(t, int64(7), n.MessageID)
		assert.Equal(t, domain.ChangeReasonTranslationFilled, n.Reason)
	case <-time.After(time.Second):
		t.Fatalf("expected notification for conversation 1")
	}

	select {
	case <-b.Send:
		t.Fatalf("conversation 2 should not be notified")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnregisterClosesSend(t *testing.T) {
	h := startHub(t)

	conn := h.NewConnection(nil, 3)
	h.Register(conn)
	waitFor(t, func() bool { return h.HasSubscribers(3) })

	h.Unregister(conn)
	waitFor(t, func() bool { return !h.HasSubscribers(3) })

	_, ok := <-conn.Send
	assert.False(t, ok)

	// A second unregister is a no-op.
	h.Unregister(conn)
}

func TestHubStopsOnContextCancel(t *testing.T) {
	h := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(finished)
	}()

	conn := h.NewConnection(nil, 4)
	h.Register(conn)
	cancel()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("hub did not stop")
	}
	_, ok := <-conn.Send
	assert.False(t, ok)

	// Register after shutdown must not block.
	h.Register(h.NewConnection(nil, 5))
}
