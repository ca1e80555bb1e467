package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"marketplace-chat/internal/credentials"
	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/stomp"
	"marketplace-chat/internal/transport/httpdto"
	chat_errors "marketplace-chat/pkg/errors"
	"marketplace-chat/pkg/logger"

	"github.com/google/uuid"
)

const (
	DefaultPageSize          = 20
	DefaultTopicPrefix       = "/topic/chat/"
	DefaultDestinationPrefix = "/app/chat/"
)

type Options struct {
	PageSize          int
	TopicPrefix       string
	DestinationPrefix string
}

// Snapshot is a read-only copy of the state exposed to the UI.
type Snapshot struct {
	SelfID        uuid.UUID
	Connection    stomp.State
	Conversations []domain.Conversation
	Active        *domain.Conversation
	Messages      []domain.ChatMessage
	HasMore       bool
	Loading       bool
}

// binding ties the single live subscription to the conversation it was
// created for. Replacing m.binding detaches the old handler.
type binding struct {
	conversationID uuid.UUID
	sub            Subscription
}

// Manager owns the chat session: one transport, at most one subscription,
// the conversation list and the active conversation's timeline.
type Manager struct {
	transport Transport
	rest      RESTClient
	creds     credentials.Source
	logger    *logger.Logger
	opts      Options
	watchers  *watchers

	mu            sync.Mutex
	selfID        uuid.UUID
	conversations []domain.Conversation
	active        *domain.Conversation
	timeline      *timeline
	nextPage      int
	hasMore       bool
	loading       bool
	connection    stomp.State
	epoch         uint64
	subGen        uint64
	binding       *binding
	started       bool
	closed        bool
	cancel        context.CancelFunc
	loopDone      chan struct{}
}

func NewManager(transport Transport, rest RESTClient, creds credentials.Source, l *logger.Logger, opts Options) *Manager {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = DefaultTopicPrefix
	}
	if opts.DestinationPrefix == "" {
		opts.DestinationPrefix = DefaultDestinationPrefix
	}
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		transport: transport,
		rest:      rest,
		creds:     creds,
		logger:    l.Named("chat"),
		opts:      opts,
		watchers:  newWatchers(),
		timeline:  newTimeline(),
	}
}

func (m *Manager) topic(id uuid.UUID) string {
	return m.opts.TopicPrefix + id.String()
}

func (m *Manager) destination(id uuid.UUID) string {
	return m.opts.DestinationPrefix + id.String()
}

// Watch registers an observer. The returned func unregisters it and closes
// the channel.
func (m *Manager) Watch() (<-chan Event, func()) {
	return m.watchers.add()
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		SelfID:        m.selfID,
		Connection:    m.connection,
		Conversations: make([]domain.Conversation, len(m.conversations)),
		Messages:      m.timeline.snapshot(),
		HasMore:       m.hasMore,
		Loading:       m.loading,
	}
	copy(s.Conversations, m.conversations)
	if m.active != nil {
		active := *m.active
		s.Active = &active
	}
	return s
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connection == stomp.Connected
}

// Initialize opens the transport and loads the conversation list. Without a
// credential it does nothing: an anonymous visitor simply has no chat.
func (m *Manager) Initialize(ctx context.Context) error {
	token, err := m.creds.Credential(ctx)
	if errors.Is(err, chat_errors.ErrNoCredential) {
		m.logger.Debugf("no credential, skipping chat initialization")
		return nil
	}
	if err != nil {
		m.notify("Error", "Failed to load chats. Please try again later.", err)
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return chat_errors.ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return chat_errors.ErrAlreadyStarted
	}
	m.started = true
	if claims, err := credentials.Inspect(token); err == nil {
		m.selfID = claims.UserID
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.loopDone = make(chan struct{})
	go m.watchConnection(loopCtx, m.loopDone)
	m.mu.Unlock()

	if err := m.transport.Connect(loopCtx, token); err != nil {
		m.logger.Warnf("transport connect failed, using REST only: %v", err)
	}
	return m.LoadConversations(ctx)
}

// LoadConversations replaces the conversation list with the server's.
func (m *Manager) LoadConversations(ctx context.Context) error {
	if _, err := m.creds.Credential(ctx); errors.Is(err, chat_errors.ErrNoCredential) {
		return nil
	}
	list, err := m.rest.ListConversations(ctx)
	if err != nil {
		m.notify("Error", "Failed to load chats. Please try again later.", err)
		return err
	}

	m.mu.Lock()
	m.conversations = list
	if m.active != nil {
		for _, c := range list {
			if c.ID == m.active.ID {
				refreshed := c
				m.active = &refreshed
				break
			}
		}
	}
	m.mu.Unlock()
	m.watchers.emit(Event{Type: EventConversations})
	return nil
}

// RefreshConversations drops any cached list and fetches it again.
func (m *Manager) RefreshConversations(ctx context.Context) error {
	m.invalidateConversations(ctx)
	return m.LoadConversations(ctx)
}

func (m *Manager) invalidateConversations(ctx context.Context) {
	inv, ok := m.rest.(conversationInvalidator)
	if !ok {
		return
	}
	if err := inv.InvalidateConversations(ctx); err != nil {
		m.logger.WithContext(ctx).Sugar().Warnf("conversation cache invalidation failed: %v", err)
	}
}

// Select makes conv the active conversation, or clears it when conv is nil.
func (m *Manager) Select(ctx context.Context, conv *domain.Conversation) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return chat_errors.ErrClosed
	}
	old := m.detachLocked()
	m.epoch++
	m.timeline.reset()
	m.nextPage = 0
	m.hasMore = false
	m.loading = false

	if conv == nil {
		m.active = nil
		m.mu.Unlock()
		m.release(old)
		m.watchers.emit(Event{Type: EventActive})
		m.watchers.emit(Event{Type: EventMessages})
		return nil
	}

	active := *conv
	m.active = &active
	connected, gen := m.connection == stomp.Connected, m.subGen
	m.mu.Unlock()

	m.release(old)
	if connected {
		m.subscribe(active.ID, gen)
	}
	m.watchers.emit(Event{Type: EventActive})
	m.watchers.emit(Event{Type: EventMessages})
	return m.LoadHistory(ctx, true)
}

// SelectByID selects a conversation from the known list.
func (m *Manager) SelectByID(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	var found *domain.Conversation
	for _, c := range m.conversations {
		if c.ID == id {
			conv := c
			found = &conv
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return chat_errors.ErrNotFound
	}
	return m.Select(ctx, found)
}

// LoadMore fetches the next older history page.
func (m *Manager) LoadMore(ctx context.Context) error {
	return m.LoadHistory(ctx, false)
}

// LoadHistory fetches one page for the active conversation. reset loads the
// newest page and replaces the timeline; otherwise the next older page is
// prepended. A non-reset call while a load is in flight returns
// ErrHistoryBusy. A load whose conversation was switched away meanwhile is
// discarded on completion.
func (m *Manager) LoadHistory(ctx context.Context, reset bool) error {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return nil
	}
	if !reset && m.loading {
		m.mu.Unlock()
		return chat_errors.ErrHistoryBusy
	}
	if !reset && !m.hasMore {
		m.mu.Unlock()
		return nil
	}
	page := m.nextPage
	if reset {
		page = 0
		m.epoch++
	}
	conversationID, epoch := m.active.ID, m.epoch
	m.loading = true
	m.mu.Unlock()
	m.watchers.emit(Event{Type: EventLoading})

	ctx = withConversation(ctx, conversationID)
	result, err := m.rest.GetMessages(ctx, conversationID, page, m.opts.PageSize)

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.logger.WithContext(ctx).Sugar().Debugf("discarding stale history page %d", page)
		return nil
	}
	m.loading = false
	if err != nil {
		m.mu.Unlock()
		m.watchers.emit(Event{Type: EventLoading})
		m.notify("Error", "Failed to load messages. Please try again later.", err)
		return err
	}

	ordered := result.Chronological()
	if reset {
		m.timeline.replace(ordered)
	} else {
		m.timeline.prepend(ordered)
	}
	m.hasMore = result.HasMore()
	m.nextPage = page + 1
	m.mu.Unlock()

	m.watchers.emit(Event{Type: EventLoading})
	m.watchers.emit(Event{Type: EventMessages})
	return nil
}

// Send posts text to the active conversation. Over a live subscription the
// text is published and the server's echo is the only copy that lands in
// the timeline. Otherwise it goes through REST and the created message is
// appended directly.
func (m *Manager) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return nil
	}
	conversationID := m.active.ID
	live := m.connection == stomp.Connected && m.binding != nil
	m.mu.Unlock()

	ctx = withConversation(ctx, conversationID)
	if live {
		err := m.transport.Publish(ctx, m.destination(conversationID), []byte(text))
		if err == nil {
			return nil
		}
		m.logger.WithContext(ctx).Sugar().Warnf("publish failed, falling back to REST: %v", err)
	}

	msg, err := m.rest.SendMessage(ctx, conversationID, text)
	if err != nil {
		m.notify("Error", "Failed to send message. Please try again.", err)
		return err
	}
	m.accept(msg, conversationID)
	return nil
}

// ShareListing sends a message that references a listing. Listing shares
// always go through REST since the push destination only carries text.
func (m *Manager) ShareListing(ctx context.Context, listingID uuid.UUID, text string) error {
	m.mu.Lock()
	if m.active == nil {
		m.mu.Unlock()
		return nil
	}
	conversationID := m.active.ID
	m.mu.Unlock()

	ctx = withConversation(ctx, conversationID)
	msg, err := m.rest.ShareListing(ctx, conversationID, listingID, text)
	if err != nil {
		m.notify("Error", "Failed to share listing. Please try again.", err)
		return err
	}
	m.accept(msg, conversationID)
	return nil
}

// StartConversation creates or fetches the conversation for a listing and
// makes it active.
func (m *Manager) StartConversation(ctx context.Context, listingID uuid.UUID) (domain.Conversation, error) {
	conv, err := m.rest.StartConversation(ctx, listingID)
	if err != nil {
		m.notify("Error", "Failed to start chat. Please try again.", err)
		return domain.Conversation{}, err
	}

	m.mu.Lock()
	replaced := false
	for i := range m.conversations {
		if m.conversations[i].ID == conv.ID {
			m.conversations[i] = conv
			replaced = true
			break
		}
	}
	if !replaced {
		m.conversations = append([]domain.Conversation{conv}, m.conversations...)
	}
	m.mu.Unlock()
	m.watchers.emit(Event{Type: EventConversations})

	return conv, m.Select(ctx, &conv)
}

// Close releases the subscription and the transport. It is safe to call
// while the transport is still connecting.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	old := m.detachLocked()
	cancel, done := m.cancel, m.loopDone
	m.mu.Unlock()

	m.release(old)
	err := m.transport.Disconnect()
	if cancel != nil {
		cancel()
		<-done
	}
	m.watchers.close()
	return err
}

func (m *Manager) accept(msg domain.ChatMessage, conversationID uuid.UUID) {
	if msg.ConversationID == uuid.Nil {
		msg.ConversationID = conversationID
	}
	m.mu.Lock()
	appended := false
	if m.active != nil && m.active.ID == msg.ConversationID {
		appended = m.timeline.append(msg)
	}
	summarized := m.summarizeLocked(msg)
	m.mu.Unlock()

	if appended {
		m.watchers.emit(Event{Type: EventMessages})
	}
	if summarized {
		m.watchers.emit(Event{Type: EventConversations})
	}
}

// summarizeLocked refreshes the last-message summary of the owning
// conversation unless it already holds something newer.
func (m *Manager) summarizeLocked(msg domain.ChatMessage) bool {
	changed := false
	for i := range m.conversations {
		c := &m.conversations[i]
		if c.ID != msg.ConversationID {
			continue
		}
		if c.LastMessage == nil || !msg.CreatedAt.Before(c.LastMessage.CreatedAt) {
			last := msg
			c.LastMessage = &last
			changed = true
		}
	}
	if m.active != nil && m.active.ID == msg.ConversationID {
		if m.active.LastMessage == nil || !msg.CreatedAt.Before(m.active.LastMessage.CreatedAt) {
			last := msg
			m.active.LastMessage = &last
		}
	}
	return changed
}

// subscribe opens the push subscription for conversation id outside the
// lock. gen is the subGen observed when the caller decided to subscribe; if
// anything detached the binding since, the new subscription is dropped.
func (m *Manager) subscribe(id uuid.UUID, gen uint64) {
	sub, err := m.transport.Subscribe(m.topic(id))
	if err != nil {
		m.logger.Warnf("subscribe to conversation %s failed, will retry on reconnect: %v", id, err)
		return
	}

	m.mu.Lock()
	current := !m.closed && m.subGen == gen && m.binding == nil &&
		m.active != nil && m.active.ID == id && m.connection == stomp.Connected
	if !current {
		m.mu.Unlock()
		m.release(&binding{conversationID: id, sub: sub})
		return
	}
	b := &binding{conversationID: id, sub: sub}
	m.binding = b
	m.mu.Unlock()
	go m.consume(b)
}

// detachLocked clears the binding so no further push is applied, and
// invalidates any subscribe still in flight. The caller releases the
// returned binding after unlocking.
func (m *Manager) detachLocked() *binding {
	m.subGen++
	b := m.binding
	m.binding = nil
	return b
}

func (m *Manager) release(b *binding) {
	if b == nil {
		return
	}
	if err := b.sub.Unsubscribe(); err != nil {
		m.logger.Debugf("unsubscribe from conversation %s: %v", b.conversationID, err)
	}
}

func (m *Manager) consume(b *binding) {
	for payload := range b.sub.Messages() {
		m.receive(b, payload)
	}
}

func (m *Manager) receive(b *binding, payload []byte) {
	var api httpdto.APIMessage
	if err := json.Unmarshal(payload, &api); err != nil || api.ID == uuid.Nil {
		m.logger.Warnf("dropping malformed chat event on conversation %s: %v", b.conversationID, errOrMissingID(err))
		return
	}
	msg := api.ToDomain(b.conversationID)
	if msg.ConversationID != b.conversationID {
		m.logger.Warnf("dropping event for conversation %s delivered on %s", msg.ConversationID, b.conversationID)
		return
	}

	m.mu.Lock()
	if m.binding != b {
		m.mu.Unlock()
		return
	}
	if !m.timeline.append(msg) {
		m.mu.Unlock()
		return
	}
	summarized := m.summarizeLocked(msg)
	m.mu.Unlock()

	// the cached list no longer carries the latest summary
	m.invalidateConversations(withConversation(context.Background(), b.conversationID))
	m.watchers.emit(Event{Type: EventMessages})
	if summarized {
		m.watchers.emit(Event{Type: EventConversations})
	}
}

func withConversation(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, logger.ConversationIdKey, id.String())
}

func errOrMissingID(err error) error {
	if err != nil {
		return err
	}
	return chat_errors.ErrMalformedPayload
}

func (m *Manager) watchConnection(ctx context.Context, done chan struct{}) {
	defer close(done)
	events := m.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			m.onConnectionEvent(ev)
		}
	}
}

func (m *Manager) onConnectionEvent(ev stomp.StateEvent) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	prev := m.connection
	m.connection = ev.State
	var old *binding
	var resubscribe uuid.UUID
	var gen uint64
	switch {
	case ev.State == stomp.Connected && m.active != nil:
		// a previous drop left no live subscription
		old = m.detachLocked()
		resubscribe, gen = m.active.ID, m.subGen
	case prev == stomp.Connected && ev.State != stomp.Connected:
		old = m.detachLocked()
	}
	m.mu.Unlock()

	m.release(old)
	if resubscribe != uuid.Nil {
		m.subscribe(resubscribe, gen)
	}

	if ev.Err != nil {
		m.logger.Warnf("chat transport %s: %v", ev.State, ev.Err)
	} else {
		m.logger.Infof("chat transport %s", ev.State)
	}
	m.watchers.emit(Event{Type: EventConnection})
}

func (m *Manager) notify(title, message string, err error) {
	m.logger.Errorf("%s: %v", message, err)
	m.watchers.emit(Event{
		Type:   EventNotice,
		Notice: &Notice{Level: NoticeError, Title: title, Message: message, Err: err},
	})
}
