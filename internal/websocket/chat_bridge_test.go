package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"marketplace-chat/internal/chat"
	"marketplace-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu     sync.Mutex
	ch     chan chat.Event
	closed bool
}

func (f *fakeSource) Watch() (<-chan chat.Event, func()) {
	return f.ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.closed {
			f.closed = true
			close(f.ch)
		}
	}
}

func TestEventPayload(t *testing.T) {
	out := EventPayload(chat.Event{
		Type:   chat.EventNotice,
		Notice: &chat.Notice{Level: chat.NoticeError, Title: "Error", Message: "Failed to send message. Please try again."},
	})
	assert.Equal(t, httpdto.ChatEventResponse{
		Type:    "notice",
		Level:   "error",
		Title:   "Error",
		Message: "Failed to send message. Please try again.",
	}, out)

	assert.Equal(t, httpdto.ChatEventResponse{Type: "messages"}, EventPayload(chat.Event{Type: chat.EventMessages}))
}

func TestBridge_RelaysEventsToConnectedClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	engine := gin.New()
	engine.GET("/events", NewHandler(hub, nil, nil).Connect)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	source := &fakeSource{ch: make(chan chat.Event, 4)}
	done := make(chan error, 1)
	go func() { done <- NewChatBridge(source, hub).Run(ctx) }()

	source.ch <- chat.Event{Type: chat.EventConnection}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got httpdto.ChatEventResponse
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "connection", got.Type)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBridge_StopsWhenSourceCloses(t *testing.T) {
	hub := NewHub()
	source := &fakeSource{ch: make(chan chat.Event)}
	close(source.ch)
	source.closed = true

	assert.NoError(t, NewChatBridge(source, hub).Run(context.Background()))
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	engine := gin.New()
	engine.GET("/events", NewHandler(hub, []string{"http://ui.test"}, nil).Connect)
	srv := httptest.NewServer(engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	header := map[string][]string{"Origin": {"http://evil.test"}}
	_, resp, err := gorilla.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}
