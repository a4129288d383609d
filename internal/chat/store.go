package chat

import (
	"context"
	"errors"
)

var (
	ErrChatNotFound = errors.New("Чат не найден")
	ErrChatExists   = errors.New("chat already exists")
	ErrEmptyMessage = errors.New("Сообщение не может быть пустым")
)

// Store persists chats per user. Lists are ordered newest first; messages keep
// append order.
type Store interface {
	ListChats(ctx context.Context, userID string) ([]Chat, error)
	GetChat(ctx context.Context, userID, chatID string) (*Chat, error)
	// CreateChat inserts the chat together with its initial messages.
	CreateChat(ctx context.Context, userID string, chat *Chat) error
	AppendMessage(ctx context.Context, userID, chatID string, msg Message) error
	DeleteChat(ctx context.Context, userID, chatID string) error
	// DeleteAll removes every chat and the active pointer.
	DeleteAll(ctx context.Context, userID string) error

	GetActive(ctx context.Context, userID string) (*string, error)
	SetActive(ctx context.Context, userID string, chatID *string) error
}
