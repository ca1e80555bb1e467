package chat

import (
	"context"

	"marketplace-chat/internal/domain"
	"marketplace-chat/internal/stomp"

	"github.com/google/uuid"
)

// Transport is the persistent push connection. Reconnection is its own
// business; the Manager only observes Events.
type Transport interface {
	Connect(ctx context.Context, credential string) error
	Disconnect() error
	Subscribe(destination string) (Subscription, error)
	Publish(ctx context.Context, destination string, body []byte) error
	Events() <-chan stomp.StateEvent
}

// Subscription yields raw payloads until it is unsubscribed or the
// connection drops, then closes the channel.
type Subscription interface {
	Messages() <-chan []byte
	Unsubscribe() error
}

// RESTClient is the request/response side of the marketplace API.
type RESTClient interface {
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	GetMessages(ctx context.Context, conversationID uuid.UUID, page, size int) (domain.MessagePage, error)
	SendMessage(ctx context.Context, conversationID uuid.UUID, text string) (domain.ChatMessage, error)
	ShareListing(ctx context.Context, conversationID, listingID uuid.UUID, text string) (domain.ChatMessage, error)
	StartConversation(ctx context.Context, listingID uuid.UUID) (domain.Conversation, error)
}

// conversationInvalidator is implemented by caching REST clients.
type conversationInvalidator interface {
	InvalidateConversations(ctx context.Context) error
}

type stompTransport struct {
	*stomp.Client
}

// NewStompTransport adapts a STOMP client to Transport.
func NewStompTransport(client *stomp.Client) Transport {
	return stompTransport{Client: client}
}

func (t stompTransport) Subscribe(destination string) (Subscription, error) {
	sub, err := t.Client.Subscribe(destination)
	if err != nil {
		return nil, err
	}
	s := &stompSubscription{sub: sub, out: make(chan []byte, 16)}
	go s.pump()
	return s, nil
}

type stompSubscription struct {
	sub *stomp.Subscription
	out chan []byte
}

func (s *stompSubscription) pump() {
	defer close(s.out)
	for f := range s.sub.C() {
		s.out <- f.Body
	}
}

func (s *stompSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *stompSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
