package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is immutable once received.
type ChatMessage struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	Sender         UserRef     `json:"sender"`
	Content        string      `json:"content"`
	SharedListing  *ListingRef `json:"shared_listing,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// MessagePage is one server page of history, newest first.
type MessagePage struct {
	Items         []ChatMessage
	Page          int
	TotalPages    int
	TotalElements int64
}

// HasMore reports whether pages older than this one exist.
func (p MessagePage) HasMore() bool {
	return p.Page+1 < p.TotalPages
}

// Chronological returns the page items oldest first.
func (p MessagePage) Chronological() []ChatMessage {
	out := make([]ChatMessage, len(p.Items))
	for i, m := range p.Items {
		out[len(p.Items)-1-i] = m
	}
	return out
}
