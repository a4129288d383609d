package chat

import (
	"time"
	"unicode/utf8"
)

// Role tags who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// titleLength is how many characters of the first message make up a chat title.
const titleLength = 15

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Chat is a titled conversation. Messages are kept in append order.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// Workspace is a user's chat list, newest first, plus the chat currently open.
// A nil ActiveChatID means the next message starts a new chat.
type Workspace struct {
	Chats        []Chat  `json:"chats"`
	ActiveChatID *string `json:"activeChatId"`
}

type SendMessageRequest struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content" binding:"required"`
}

type SendMessageResponse struct {
	Chat    *Chat `json:"chat"`
	Created bool  `json:"created"`
}

type SelectChatRequest struct {
	ChatID string `json:"chatId" binding:"required"`
}

type ActiveChatResponse struct {
	ActiveChatID *string `json:"activeChatId"`
}

type ChatsResponse struct {
	Chats []Chat `json:"chats"`
}

// TitleFrom derives a chat title from its first message.
func TitleFrom(firstMessage string) string {
	if utf8.RuneCountInString(firstMessage) <= titleLength {
		return firstMessage
	}
	return string([]rune(firstMessage)[:titleLength]) + "..."
}

func (c *Chat) clone() *Chat {
	copied := *c
	copied.Messages = append([]Message(nil), c.Messages...)
	return &copied
}
