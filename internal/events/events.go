// Package events fans chat changes out to the user's open websocket connections,
// across instances when NATS is configured.
package events

import (
	"context"
	"time"
)

const (
	TypeConnected       = "connected"
	TypeChatCreated     = "chat.created"
	TypeMessageAppended = "message.appended"
	TypeChatSelected    = "chat.selected"
	TypeChatDeleted     = "chat.deleted"
	TypeChatsCleared    = "chats.cleared"
)

type Event struct {
	Type         string    `json:"type"`
	UserID       string    `json:"userId,omitempty"`
	ChatID       string    `json:"chatId,omitempty"`
	ActiveChatID *string   `json:"activeChatId,omitempty"`
	Data         any       `json:"data,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher delivers an event to every connection of event.UserID.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LocalBroker delivers events to this instance's hub only.
type LocalBroker struct {
	hub *Hub
}

func NewLocalBroker(hub *Hub) *LocalBroker {
	return &LocalBroker{hub: hub}
}

func (b *LocalBroker) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	b.hub.Broadcast(event.UserID, event)
	return nil
}
