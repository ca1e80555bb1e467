package restclient

import (
	"context"

	"marketplace-chat/internal/credentials"
	"marketplace-chat/internal/domain"
	"marketplace-chat/pkg/logger"

	"github.com/google/uuid"
)

// ConversationCache stores conversation lists per user.
type ConversationCache interface {
	GetConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, bool, error)
	SetConversations(ctx context.Context, userID uuid.UUID, list []domain.Conversation) error
	DeleteConversations(ctx context.Context, userID uuid.UUID) error
}

// CachedClient serves the conversation list from a cache and drops the
// entry whenever a call may have changed it. History is never cached.
// Cache failures only cost a round trip.
type CachedClient struct {
	*Client
	cache  ConversationCache
	creds  credentials.Source
	logger *logger.Logger
}

func NewCached(client *Client, cache ConversationCache, creds credentials.Source, l *logger.Logger) *CachedClient {
	if l == nil {
		l = logger.NewNop()
	}
	return &CachedClient{Client: client, cache: cache, creds: creds, logger: l.Named("restcache")}
}

func (c *CachedClient) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	userID := credentials.SelfID(ctx, c.creds)
	if userID == uuid.Nil {
		return c.Client.ListConversations(ctx)
	}

	list, ok, err := c.cache.GetConversations(ctx, userID)
	if err != nil {
		c.logger.Warnf("conversation cache read failed: %v", err)
	}
	if ok {
		return list, nil
	}

	list, err = c.Client.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetConversations(ctx, userID, list); err != nil {
		c.logger.Warnf("conversation cache write failed: %v", err)
	}
	return list, nil
}

func (c *CachedClient) SendMessage(ctx context.Context, conversationID uuid.UUID, text string) (domain.ChatMessage, error) {
	msg, err := c.Client.SendMessage(ctx, conversationID, text)
	if err == nil {
		c.invalidate(ctx)
	}
	return msg, err
}

func (c *CachedClient) ShareListing(ctx context.Context, conversationID, listingID uuid.UUID, text string) (domain.ChatMessage, error) {
	msg, err := c.Client.ShareListing(ctx, conversationID, listingID, text)
	if err == nil {
		c.invalidate(ctx)
	}
	return msg, err
}

func (c *CachedClient) StartConversation(ctx context.Context, listingID uuid.UUID) (domain.Conversation, error) {
	conv, err := c.Client.StartConversation(ctx, listingID)
	if err == nil {
		c.invalidate(ctx)
	}
	return conv, err
}

// InvalidateConversations drops the caller's cached list.
func (c *CachedClient) InvalidateConversations(ctx context.Context) error {
	userID := credentials.SelfID(ctx, c.creds)
	if userID == uuid.Nil {
		return nil
	}
	return c.cache.DeleteConversations(ctx, userID)
}

func (c *CachedClient) invalidate(ctx context.Context) {
	if err := c.InvalidateConversations(ctx); err != nil {
		c.logger.Warnf("conversation cache invalidation failed: %v", err)
	}
}
