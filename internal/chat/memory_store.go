package chat

import (
	"context"
	"sync"
)

type memoryWorkspace struct {
	chats  []*Chat
	active *string
}

// MemoryStore keeps chats in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*memoryWorkspace
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*memoryWorkspace)}
}

func (s *MemoryStore) workspace(userID string) *memoryWorkspace {
	ws, ok := s.users[userID]
	if !ok {
		ws = &memoryWorkspace{}
		s.users[userID] = ws
	}
	return ws
}

func (s *MemoryStore) find(userID, chatID string) (*Chat, int) {
	ws, ok := s.users[userID]
	if !ok {
		return nil, -1
	}
	for i, c := range ws.chats {
		if c.ID == chatID {
			return c, i
		}
	}
	return nil, -1
}

func (s *MemoryStore) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.users[userID]
	if !ok {
		return []Chat{}, nil
	}
	chats := make([]Chat, 0, len(ws.chats))
	for _, c := range ws.chats {
		chats = append(chats, *c.clone())
	}
	return chats, nil
}

func (s *MemoryStore) GetChat(ctx context.Context, userID, chatID string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, _ := s.find(userID, chatID)
	if c == nil {
		return nil, ErrChatNotFound
	}
	return c.clone(), nil
}

func (s *MemoryStore) CreateChat(ctx context.Context, userID string, chat *Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, _ := s.find(userID, chat.ID); existing != nil {
		return ErrChatExists
	}
	ws := s.workspace(userID)
	ws.chats = append([]*Chat{chat.clone()}, ws.chats...)
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, userID, chatID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, _ := s.find(userID, chatID)
	if c == nil {
		return ErrChatNotFound
	}
	c.Messages = append(c.Messages, msg)
	return nil
}

func (s *MemoryStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, i := s.find(userID, chatID)
	if c == nil {
		return ErrChatNotFound
	}
	ws := s.users[userID]
	ws.chats = append(ws.chats[:i:i], ws.chats[i+1:]...)
	return nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)
	return nil
}

func (s *MemoryStore) GetActive(ctx context.Context, userID string) (*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.users[userID]
	if !ok || ws.active == nil {
		return nil, nil
	}
	active := *ws.active
	return &active, nil
}

func (s *MemoryStore) SetActive(ctx context.Context, userID string, chatID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := s.workspace(userID)
	if chatID == nil {
		ws.active = nil
		return nil
	}
	active := *chatID
	ws.active = &active
	return nil
}
