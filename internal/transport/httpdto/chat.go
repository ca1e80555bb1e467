package httpdto

import (
	"time"

	"marketplace-chat/internal/domain"

	"github.com/google/uuid"
)

// Wire shapes of the marketplace API (camelCase, Spring page envelope).

type APIUser struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	PictureURL string    `json:"pictureUrl,omitempty"`
}

type APIListing struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	Price    float64   `json:"price"`
	ImageURL string    `json:"imageUrl,omitempty"`
	Status   string    `json:"status,omitempty"`
}

type APIMessage struct {
	ID              uuid.UUID   `json:"id"`
	ChatID          *uuid.UUID  `json:"chatId,omitempty"`
	Sender          APIUser     `json:"sender"`
	Content         string      `json:"content"`
	SharedListingID *uuid.UUID  `json:"sharedListingId,omitempty"`
	SharedListing   *APIListing `json:"sharedListing,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

type APIChat struct {
	ID          uuid.UUID   `json:"id"`
	ListingID   *uuid.UUID  `json:"listingId,omitempty"`
	Listing     *APIListing `json:"listing,omitempty"`
	Buyer       APIUser     `json:"buyer"`
	Seller      APIUser     `json:"seller"`
	LastMessage *APIMessage `json:"lastMessage,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type APIMessagePage struct {
	Content       []APIMessage `json:"content"`
	TotalPages    int          `json:"totalPages"`
	TotalElements int64        `json:"totalElements"`
	Number        int          `json:"number"`
	Size          int          `json:"size"`
}

type APISendMessageRequest struct {
	Content         string `json:"content"`
	SharedListingID string `json:"sharedListingId,omitempty"`
}

type APIError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (u APIUser) ToDomain() domain.UserRef {
	return domain.UserRef{ID: u.ID, Name: u.Name, PictureURL: u.PictureURL}
}

func (l *APIListing) ToDomain() *domain.ListingRef {
	if l == nil {
		return nil
	}
	return &domain.ListingRef{ID: l.ID, Title: l.Title, Price: l.Price, ImageURL: l.ImageURL, Status: l.Status}
}

// ToDomain converts a wire message. chatID fills in the owning conversation
// when the payload omits it.
func (m APIMessage) ToDomain(chatID uuid.UUID) domain.ChatMessage {
	conversationID := chatID
	if m.ChatID != nil && *m.ChatID != uuid.Nil {
		conversationID = *m.ChatID
	}
	shared := m.SharedListing.ToDomain()
	if shared == nil && m.SharedListingID != nil && *m.SharedListingID != uuid.Nil {
		shared = &domain.ListingRef{ID: *m.SharedListingID}
	}
	return domain.ChatMessage{
		ID:             m.ID,
		ConversationID: conversationID,
		Sender:         m.Sender.ToDomain(),
		Content:        m.Content,
		SharedListing:  shared,
		CreatedAt:      m.CreatedAt,
	}
}

func (c APIChat) ToDomain() domain.Conversation {
	listing := c.Listing.ToDomain()
	if listing == nil && c.ListingID != nil && *c.ListingID != uuid.Nil {
		listing = &domain.ListingRef{ID: *c.ListingID}
	}
	conv := domain.Conversation{
		ID:        c.ID,
		Listing:   listing,
		Buyer:     c.Buyer.ToDomain(),
		Seller:    c.Seller.ToDomain(),
		CreatedAt: c.CreatedAt,
	}
	if c.LastMessage != nil {
		last := c.LastMessage.ToDomain(c.ID)
		conv.LastMessage = &last
	}
	return conv
}

func (p APIMessagePage) ToDomain(chatID uuid.UUID, page int) domain.MessagePage {
	items := make([]domain.ChatMessage, 0, len(p.Content))
	for _, m := range p.Content {
		items = append(items, m.ToDomain(chatID))
	}
	return domain.MessagePage{
		Items:         items,
		Page:          page,
		TotalPages:    p.TotalPages,
		TotalElements: p.TotalElements,
	}
}

// Local gateway requests and views.

type SendMessageRequest struct {
	Content         string `json:"content" binding:"required"`
	SharedListingID string `json:"shared_listing_id,omitempty"`
}

type ChatStateResponse struct {
	SelfID        string                `json:"self_id,omitempty"`
	Connection    string                `json:"connection"`
	Conversations []domain.Conversation `json:"conversations"`
	Active        *domain.Conversation  `json:"active,omitempty"`
	Messages      []domain.ChatMessage  `json:"messages"`
	HasMore       bool                  `json:"has_more"`
	Loading       bool                  `json:"loading"`
}

type ChatEventResponse struct {
	Type    string `json:"type"`
	Level   string `json:"level,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}
