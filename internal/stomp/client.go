package stomp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	chat_errors "marketplace-chat/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait               = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	subscriptionBuffer      = 64
	eventBuffer             = 16
)

var ErrServerError = errors.New("stomp: server error")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// StateEvent reports a connection state transition. Err is set when the
// transition into Disconnected was caused by a failure.
type StateEvent struct {
	State State
	Err   error
}

type Config struct {
	URL               string
	Host              string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	Dialer            *websocket.Dialer
}

// Client is a STOMP 1.2 client over a single websocket. It owns reconnection:
// after a failure it waits ReconnectDelay and dials again until Disconnect.
// Subscriptions do not survive a reconnect; their channels are closed.
type Client struct {
	cfg    Config
	logger *zap.Logger
	events chan StateEvent

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	subs   map[string]*Subscription
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Host == "" {
		if u, err := url.Parse(cfg.URL); err == nil {
			cfg.Host = u.Hostname()
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "stomp")),
		events: make(chan StateEvent, eventBuffer),
		subs:   make(map[string]*Subscription),
	}
}

// Events delivers state transitions. Slow readers lose intermediate
// transitions, never the latest one.
func (c *Client) Events() <-chan StateEvent {
	return c.events
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop and returns immediately.
func (c *Client) Connect(ctx context.Context, credential string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return chat_errors.ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(loopCtx, credential, c.done)
	return nil
}

// Disconnect stops the loop, including a dial or handshake in progress, and
// waits for it to exit.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cancel, done, conn, state := c.cancel, c.done, c.conn, c.state
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	if conn != nil && state == Connected {
		_ = c.writeFrame(conn, NewFrame(CmdDisconnect))
	}
	cancel()
	<-done
	return nil
}

// Subscribe binds a new subscription to destination on the live session.
func (c *Client) Subscribe(destination string) (*Subscription, error) {
	c.mu.Lock()
	if c.state != Connected || c.conn == nil {
		c.mu.Unlock()
		return nil, chat_errors.ErrNotConnected
	}
	sub := &Subscription{
		ID:          uuid.NewString(),
		Destination: destination,
		client:      c,
		ch:          make(chan *Frame, subscriptionBuffer),
		done:        make(chan struct{}),
	}
	c.subs[sub.ID] = sub
	conn := c.conn
	c.mu.Unlock()

	frame := NewFrame(CmdSubscribe, "id", sub.ID, "destination", destination, "ack", "auto")
	if err := c.writeFrame(conn, frame); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.ID)
		c.mu.Unlock()
		sub.closeLocal()
		return nil, fmt.Errorf("subscribe %s: %w", destination, err)
	}
	c.logger.Debug("subscribed", zap.String("destination", destination), zap.String("subscription_id", sub.ID))
	return sub, nil
}

// Publish sends body as a text/plain SEND frame.
func (c *Client) Publish(ctx context.Context, destination string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != Connected || conn == nil {
		return chat_errors.ErrNotConnected
	}
	frame := NewFrame(CmdSend, "destination", destination, "content-type", "text/plain;charset=UTF-8")
	frame.Body = body
	if err := c.writeFrame(conn, frame); err != nil {
		return fmt.Errorf("%w: %v", chat_errors.ErrNotConnected, err)
	}
	return nil
}

func (c *Client) run(ctx context.Context, credential string, done chan struct{}) {
	defer close(done)
	for {
		c.setState(Connecting, nil)
		err := c.session(ctx, credential)
		c.dropSession()
		if ctx.Err() != nil {
			c.setState(Disconnected, nil)
			return
		}
		c.logger.Warn("stomp session ended", zap.Error(err), zap.Duration("retry_in", c.cfg.ReconnectDelay))
		c.setState(Disconnected, err)

		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) session(ctx context.Context, credential string) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	conn, _, err := c.cfg.Dialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	beat := c.cfg.HeartbeatInterval.Milliseconds()
	connect := NewFrame(CmdConnect,
		"accept-version", "1.2,1.1",
		"host", c.cfg.Host,
		"heart-beat", fmt.Sprintf("%d,%d", beat, beat),
		"Authorization", "Bearer "+credential,
	)
	if err := c.writeFrame(conn, connect); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	connected, err := readHandshake(conn)
	if err != nil {
		return err
	}
	outgoing, incoming := negotiateHeartbeat(c.cfg.HeartbeatInterval, connected.Header.Get("heart-beat"))

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(Connected, nil)
	c.logger.Info("stomp connected",
		zap.String("url", c.cfg.URL),
		zap.String("version", connected.Header.Get("version")),
		zap.Duration("heartbeat_out", outgoing),
		zap.Duration("heartbeat_in", incoming),
	)

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	if outgoing > 0 {
		go c.heartbeat(conn, outgoing, sessionDone)
	}

	for {
		if incoming > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(incoming * 3))
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		frames, err := ReadFrames(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
		}
		for _, f := range frames {
			switch f.Command {
			case CmdMessage:
				c.dispatch(ctx, f)
			case CmdError:
				return fmt.Errorf("%w: %s", ErrServerError, f.Header.Get("message"))
			case CmdReceipt:
			default:
				c.logger.Debug("ignoring frame", zap.String("command", f.Command))
			}
		}
	}
}

func readHandshake(conn *websocket.Conn) (*Frame, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("handshake: %w", err)
		}
		frames, err := ReadFrames(data)
		if err != nil {
			return nil, fmt.Errorf("handshake: %w", err)
		}
		if len(frames) == 0 {
			continue
		}
		switch f := frames[0]; f.Command {
		case CmdConnected:
			return f, nil
		case CmdError:
			return nil, fmt.Errorf("%w: %s", ErrServerError, f.Header.Get("message"))
		default:
			return nil, fmt.Errorf("handshake: unexpected %s", f.Command)
		}
	}
}

// negotiateHeartbeat applies the STOMP rule: each direction uses the larger
// of the two advertised intervals, or zero when either side opts out.
func negotiateHeartbeat(local time.Duration, serverHeader string) (outgoing, incoming time.Duration) {
	sx, sy := parseHeartbeat(serverHeader)
	if local > 0 && sy > 0 {
		outgoing = max(local, sy)
	}
	if local > 0 && sx > 0 {
		incoming = max(local, sx)
	}
	return outgoing, incoming
}

func parseHeartbeat(v string) (time.Duration, time.Duration) {
	a, b, ok := strings.Cut(v, ",")
	if !ok {
		return 0, 0
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(a))
	y, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || x < 0 || y < 0 {
		return 0, 0
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond
}

func (c *Client) heartbeat(conn *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, []byte("\n"))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) writeFrame(conn *websocket.Conn, f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, Encode(f))
}

// dispatch hands f to its subscription, blocking the read loop while the
// subscriber is behind.
func (c *Client) dispatch(ctx context.Context, f *Frame) {
	id := f.Header.Get("subscription")
	c.mu.Lock()
	sub, ok := c.subs[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	sub.deliver(ctx, f)
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.conn = nil
	subs := c.subs
	c.subs = make(map[string]*Subscription)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.closeLocal()
	}
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if !changed && err == nil {
		return
	}
	ev := StateEvent{State: s, Err: err}
	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		select {
		case <-c.events:
		default:
		}
	}
}

// Subscription is one live SUBSCRIBE on the session.
type Subscription struct {
	ID          string
	Destination string

	client    *Client
	ch        chan *Frame
	done      chan struct{}
	sendMu    sync.Mutex
	closeOnce sync.Once
}

// C yields MESSAGE frames until the subscription is unsubscribed or the
// session drops.
func (s *Subscription) C() <-chan *Frame {
	return s.ch
}

// Unsubscribe is idempotent.
func (s *Subscription) Unsubscribe() error {
	c := s.client
	c.mu.Lock()
	_, live := c.subs[s.ID]
	delete(c.subs, s.ID)
	conn, state := c.conn, c.state
	c.mu.Unlock()
	s.closeLocal()

	if !live || state != Connected || conn == nil {
		return nil
	}
	return c.writeFrame(conn, NewFrame(CmdUnsubscribe, "id", s.ID))
}

// deliver waits for room in the channel until the subscription closes or the
// session ends.
func (s *Subscription) deliver(ctx context.Context, f *Frame) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- f:
	case <-s.done:
	case <-ctx.Done():
	}
}

// closeLocal wakes a blocked deliver before closing ch so the two never race.
func (s *Subscription) closeLocal() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sendMu.Lock()
		close(s.ch)
		s.sendMu.Unlock()
	})
}
