package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserRef identifies a buyer, seller or message sender.
type UserRef struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	PictureURL string    `json:"picture_url,omitempty"`
}

// ListingRef is a lightweight reference to a marketplace listing.
type ListingRef struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title,omitempty"`
	Price    float64   `json:"price,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`
	Status   string    `json:"status,omitempty"`
}

// Conversation is a buyer/seller thread, optionally tied to a listing.
type Conversation struct {
	ID          uuid.UUID    `json:"id"`
	Listing     *ListingRef  `json:"listing,omitempty"`
	Buyer       UserRef      `json:"buyer"`
	Seller      UserRef      `json:"seller"`
	LastMessage *ChatMessage `json:"last_message,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
