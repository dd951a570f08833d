package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(func() interface{} { return map[string]string{"message": "Idle"} }, zerolog.Nop())
}

func TestHub_PushAfterRemove(t *testing.T) {
	h := newTestHub()
	c := &client{send: make(chan Message, sendBuffer)}
	h.clients[c] = struct{}{}

	// closeAll can win the race against a connection's first snapshot.
	h.closeAll()
	assert.NotPanics(t, func() { h.push(c, Message{Type: "status"}) })
	assert.Zero(t, h.Clients())
}

func TestHub_PushDropsWhenFull(t *testing.T) {
	h := newTestHub()
	c := &client{send: make(chan Message, 1)}
	h.clients[c] = struct{}{}

	h.push(c, Message{Type: "status", Data: 1})
	h.push(c, Message{Type: "status", Data: 2})

	require.Len(t, c.send, 1)
	assert.Equal(t, 1, (<-c.send).Data)
}

func TestHub_RunClosesClients(t *testing.T) {
	h := newTestHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.NoError(t, conn.ReadJSON(&msg), "periodic push")
	cancel()
	<-done
	assert.Zero(t, h.Clients())

	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived), "unexpected error: %v", err)
}
