package websocket

import (
	"context"
	"encoding/json"

	"marketplace-chat/internal/chat"
	"marketplace-chat/internal/transport/httpdto"
)

// EventSource is what the bridge needs from the chat manager.
type EventSource interface {
	Watch() (<-chan chat.Event, func())
}

// ChatBridge relays chat manager events to every UI connection.
type ChatBridge struct {
	source EventSource
	hub    *Hub
}

func NewChatBridge(source EventSource, hub *Hub) *ChatBridge {
	return &ChatBridge{source: source, hub: hub}
}

// Run relays until ctx ends or the manager closes its event stream.
func (b *ChatBridge) Run(ctx context.Context) error {
	events, stop := b.source.Watch()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(EventPayload(ev))
			if err != nil {
				return err
			}
			b.hub.Broadcast(payload)
		}
	}
}

// EventPayload is the wire form of a chat event.
func EventPayload(ev chat.Event) httpdto.ChatEventResponse {
	out := httpdto.ChatEventResponse{Type: string(ev.Type)}
	if ev.Notice != nil {
		out.Level = string(ev.Notice.Level)
		out.Title = ev.Notice.Title
		out.Message = ev.Notice.Message
	}
	return out
}
