package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-chat/internal/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - chat:conversations:{user_id} - conversation list as returned by the API

const DefaultConversationTTL = 2 * time.Minute

// ConversationCache keeps each user's conversation list in Redis.
type ConversationCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewConversationCache(client *goredis.Client, ttl time.Duration) *ConversationCache {
	if ttl <= 0 {
		ttl = DefaultConversationTTL
	}
	return &ConversationCache{client: client, ttl: ttl}
}

func conversationsKey(userID uuid.UUID) string {
	return fmt.Sprintf("chat:conversations:%s", userID.String())
}

// GetConversations returns the cached list. A miss is reported with ok=false
// and a nil error.
func (c *ConversationCache) GetConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, bool, error) {
	data, err := c.client.Get(ctx, conversationsKey(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var list []domain.Conversation
	if err := json.Unmarshal(data, &list); err != nil {
		// unreadable entries are treated as a miss and overwritten
		return nil, false, nil
	}
	return list, true, nil
}

func (c *ConversationCache) SetConversations(ctx context.Context, userID uuid.UUID, list []domain.Conversation) error {
	data, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, conversationsKey(userID), data, c.ttl).Err()
}

func (c *ConversationCache) DeleteConversations(ctx context.Context, userID uuid.UUID) error {
	return c.client.Del(ctx, conversationsKey(userID)).Err()
}
