package chat

import (
	"marketplace-chat/internal/domain"

	"github.com/google/uuid"
)

// timeline is the ordered, de-duplicated message sequence of the active
// conversation. Every message id appears at most once.
type timeline struct {
	items []domain.ChatMessage
	seen  map[uuid.UUID]struct{}
}

func newTimeline() *timeline {
	return &timeline{seen: make(map[uuid.UUID]struct{})}
}

func (t *timeline) reset() {
	t.items = nil
	t.seen = make(map[uuid.UUID]struct{})
}

func (t *timeline) contains(id uuid.UUID) bool {
	_, ok := t.seen[id]
	return ok
}

// append adds a live message at the end. It reports false for duplicates.
func (t *timeline) append(msg domain.ChatMessage) bool {
	if t.contains(msg.ID) {
		return false
	}
	t.seen[msg.ID] = struct{}{}
	t.items = append(t.items, msg)
	return true
}

// prepend merges an older page (oldest first) in front of the sequence.
func (t *timeline) prepend(page []domain.ChatMessage) int {
	fresh := make([]domain.ChatMessage, 0, len(page))
	for _, msg := range page {
		if t.contains(msg.ID) {
			continue
		}
		t.seen[msg.ID] = struct{}{}
		fresh = append(fresh, msg)
	}
	if len(fresh) == 0 {
		return 0
	}
	t.items = append(fresh, t.items...)
	return len(fresh)
}

// replace makes page (oldest first) the new sequence. Messages already held
// that are newer than the page, such as pushes that arrived while the page
// was in flight, are kept after it.
func (t *timeline) replace(page []domain.ChatMessage) {
	items := make([]domain.ChatMessage, 0, len(page)+len(t.items))
	seen := make(map[uuid.UUID]struct{}, len(page)+len(t.items))
	for _, msg := range page {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		items = append(items, msg)
	}

	var newest domain.ChatMessage
	if len(items) > 0 {
		newest = items[len(items)-1]
	}
	for _, msg := range t.items {
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		if len(items) > 0 && msg.CreatedAt.Before(newest.CreatedAt) {
			continue
		}
		seen[msg.ID] = struct{}{}
		items = append(items, msg)
	}
	t.items = items
	t.seen = seen
}

func (t *timeline) snapshot() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(t.items))
	copy(out, t.items)
	return out
}
