package stomp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	chat_errors "marketplace-chat/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker is a minimal STOMP broker: it authenticates CONNECT, records
// client frames and echoes every SEND back to subscribers of the destination.
type fakeBroker struct {
	token  string
	silent bool

	connects atomic.Int32
	frames   chan *Frame

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFakeBroker(token string) *fakeBroker {
	return &fakeBroker{token: token, frames: make(chan *Frame, 64)}
}

func (b *fakeBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	frames, err := ReadFrames(data)
	if err != nil || len(frames) == 0 || frames[0].Command != CmdConnect {
		return
	}
	b.connects.Add(1)
	if b.silent {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
	if frames[0].Header.Get("Authorization") != "Bearer "+b.token {
		_ = conn.WriteMessage(websocket.TextMessage, Encode(NewFrame(CmdError, "message", "unauthorized")))
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, Encode(NewFrame(CmdConnected, "version", "1.2", "heart-beat", "0,0")))

	subs := map[string]string{}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frames, err := ReadFrames(data)
		if err != nil {
			continue
		}
		for _, f := range frames {
			select {
			case b.frames <- f:
			default:
			}
			switch f.Command {
			case CmdSubscribe:
				subs[f.Header.Get("destination")] = f.Header.Get("id")
			case CmdUnsubscribe:
				for dest, id := range subs {
					if id == f.Header.Get("id") {
						delete(subs, dest)
					}
				}
			case CmdSend:
				id, ok := subs[f.Header.Get("destination")]
				if !ok {
					continue
				}
				msg := NewFrame(CmdMessage,
					"destination", f.Header.Get("destination"),
					"subscription", id,
					"message-id", uuid.NewString(),
				)
				msg.Body = f.Body
				_ = conn.WriteMessage(websocket.TextMessage, Encode(msg))
			}
		}
	}
}

func (b *fakeBroker) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		_ = c.Close()
	}
	b.conns = nil
}

func (b *fakeBroker) waitFrame(t *testing.T, command string) *Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-b.frames:
			if f.Command == command {
				return f
			}
		case <-timeout:
			t.Fatalf("broker never received %s", command)
			return nil
		}
	}
}

func startBroker(t *testing.T, b *fakeBroker) string {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(url string) *Client {
	return NewClient(Config{URL: url, ReconnectDelay: 50 * time.Millisecond, HandshakeTimeout: time.Second}, nil)
}

func waitState(t *testing.T, c *Client, want State) StateEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.State == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("never reached state %s (current %s)", want, c.State())
			return StateEvent{}
		}
	}
}

func receive(t *testing.T, sub *Subscription) *Frame {
	t.Helper()
	select {
	case f, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestClient_SubscribePublishReceive(t *testing.T) {
	broker := newFakeBroker("secret")
	c := newTestClient(startBroker(t, broker))
	require.NoError(t, c.Connect(context.Background(), "secret"))
	t.Cleanup(func() { _ = c.Disconnect() })

	waitState(t, c, Connected)

	sub, err := c.Subscribe("/topic/chat/1")
	require.NoError(t, err)
	subscribe := broker.waitFrame(t, CmdSubscribe)
	assert.Equal(t, "/topic/chat/1", subscribe.Header.Get("destination"))
	assert.Equal(t, sub.ID, subscribe.Header.Get("id"))

	require.NoError(t, c.Publish(context.Background(), "/topic/chat/1", []byte("hello")))
	send := broker.waitFrame(t, CmdSend)
	assert.Equal(t, "text/plain;charset=UTF-8", send.Header.Get("content-type"))

	msg := receive(t, sub)
	assert.Equal(t, "hello", string(msg.Body))
	assert.Equal(t, sub.ID, msg.Header.Get("subscription"))
}

func TestClient_SlowSubscriberReceivesBurst(t *testing.T) {
	broker := newFakeBroker("secret")
	c := newTestClient(startBroker(t, broker))
	require.NoError(t, c.Connect(context.Background(), "secret"))
	t.Cleanup(func() { _ = c.Disconnect() })
	waitState(t, c, Connected)

	sub, err := c.Subscribe("/topic/chat/burst")
	require.NoError(t, err)
	broker.waitFrame(t, CmdSubscribe)

	const total = 200
	for i := 0; i < total; i++ {
		require.NoError(t, c.Publish(context.Background(), "/topic/chat/burst", []byte(strconv.Itoa(i))))
	}
	time.Sleep(300 * time.Millisecond)

	for i := 0; i < total; i++ {
		msg := receive(t, sub)
		require.Equal(t, strconv.Itoa(i), string(msg.Body))
	}
}

func TestClient_UnsubscribeReleasesBlockedDelivery(t *testing.T) {
	broker := newFakeBroker("secret")
	c := newTestClient(startBroker(t, broker))
	require.NoError(t, c.Connect(context.Background(), "secret"))
	t.Cleanup(func() { _ = c.Disconnect() })
	waitState(t, c, Connected)

	full, err := c.Subscribe("/topic/chat/full")
	require.NoError(t, err)
	other, err := c.Subscribe("/topic/chat/other")
	require.NoError(t, err)

	for i := 0; i < subscriptionBuffer+5; i++ {
		require.NoError(t, c.Publish(context.Background(), "/topic/chat/full", []byte("x")))
	}
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, full.Unsubscribe())

	require.NoError(t, c.Publish(context.Background(), "/topic/chat/other", []byte("after")))
	assert.Equal(t, "after", string(receive(t, other).Body))
}

func TestClient_UnsubscribeClosesChannel(t *testing.T) {
	broker := newFakeBroker("secret")
	c := newTestClient(startBroker(t, broker))
	require.NoError(t, c.Connect(context.Background(), "secret"))
	t.Cleanup(func() { _ = c.Disconnect() })
	waitState(t, c, Connected)

	sub, err := c.Subscribe("/topic/chat/2")
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	unsub := broker.waitFrame(t, CmdUnsubscribe)
	assert.Equal(t, sub.ID, unsub.Header.Get("id"))

	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestClient_RejectedCredentialRetries(t *testing.T) {
	broker := newFakeBroker("secret")
	c := newTestClient(startBroker(t, broker))
	require.NoError(t, c.Connect(context.Background(), "wrong"))
	t.Cleanup(func() { _ = c.Disconnect() })

	ev := waitState(t, c, Disconnected)
	assert.ErrorIs(t, ev.Err, ErrServerError)

	waitState(t, c, Connecting)
	assert.Eventually(t, func() bool { return broker.connects.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_ReconnectDropsSubscriptions(t *testing.T) {
	broker := newFakeBroker("secret")
	c := newTestClient(startBroker(t, broker))
	require.NoError(t, c.Connect(context.Background(), "secret"))
	t.Cleanup(func() { _ = c.Disconnect() })
	waitState(t, c, Connected)

	sub, err := c.Subscribe("/topic/chat/3")
	require.NoError(t, err)

	broker.dropAll()
	waitState(t, c, Disconnected)

	select {
	case _, ok := <-sub.C():
		assert.False(t, ok, "subscription must be closed when the session drops")
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed")
	}

	waitState(t, c, Connected)
	assert.GreaterOrEqual(t, broker.connects.Load(), int32(2))
}

func TestClient_DisconnectDuringHandshake(t *testing.T) {
	broker := newFakeBroker("secret")
	broker.silent = true
	c := NewClient(Config{URL: startBroker(t, broker), HandshakeTimeout: 10 * time.Second}, nil)
	require.NoError(t, c.Connect(context.Background(), "secret"))

	waitState(t, c, Connecting)
	assert.Eventually(t, func() bool { return broker.connects.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	finished := make(chan struct{})
	go func() {
		_ = c.Disconnect()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect blocked on a pending handshake")
	}
	assert.Equal(t, Disconnected, c.State())
}

func TestClient_NotConnected(t *testing.T) {
	c := newTestClient("ws://127.0.0.1:1/ws")

	_, err := c.Subscribe("/topic/chat/1")
	assert.ErrorIs(t, err, chat_errors.ErrNotConnected)
	assert.ErrorIs(t, c.Publish(context.Background(), "/app/chat/1", []byte("x")), chat_errors.ErrNotConnected)
	assert.NoError(t, c.Disconnect())
}

func TestClient_ConnectTwice(t *testing.T) {
	c := newTestClient("ws://127.0.0.1:1/ws")
	require.NoError(t, c.Connect(context.Background(), "t"))
	t.Cleanup(func() { _ = c.Disconnect() })

	assert.ErrorIs(t, c.Connect(context.Background(), "t"), chat_errors.ErrAlreadyStarted)
}

func TestNegotiateHeartbeat(t *testing.T) {
	tests := []struct {
		name         string
		local        time.Duration
		server       string
		wantOut      time.Duration
		wantIncoming time.Duration
	}{
		{name: "both opt out", local: 0, server: "0,0"},
		{name: "server opts out", local: 10 * time.Second, server: "0,0"},
		{name: "larger wins", local: 10 * time.Second, server: "20000,5000", wantOut: 10 * time.Second, wantIncoming: 20 * time.Second},
		{name: "garbage header", local: 10 * time.Second, server: "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, in := negotiateHeartbeat(tt.local, tt.server)
			assert.Equal(t, tt.wantOut, out)
			assert.Equal(t, tt.wantIncoming, in)
		})
	}
}
