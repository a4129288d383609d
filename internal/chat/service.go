package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pravoai/pravo-api/internal/events"
	"github.com/pravoai/pravo-api/internal/logger"
	"github.com/pravoai/pravo-api/internal/metrics"
)

// createRetries bounds id regeneration when another instance took the same id.
const createRetries = 3

// ReplyScheduler queues one assistant reply for a chat.
type ReplyScheduler interface {
	ScheduleReply(ctx context.Context, userID, chatID string)
}

// Service manages a user's chats: lazy creation on the first message, the
// active chat pointer, and appends. Operations for one user are serialized.
type Service struct {
	store          Store
	ids            *IDGenerator
	welcomeMessage string
	publisher      events.Publisher
	replies        ReplyScheduler
	logger         *logger.Logger

	// Entries live only while an operation for that user holds or waits on them.
	locksMu   sync.Mutex
	userLocks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func NewService(store Store, ids *IDGenerator, welcomeMessage string, publisher events.Publisher, log *logger.Logger) *Service {
	return &Service{
		store:          store,
		ids:            ids,
		welcomeMessage: welcomeMessage,
		publisher:      publisher,
		logger:         log.WithComponent("chat"),
		userLocks:      make(map[string]*userLock),
	}
}

// SetReplyScheduler wires the assistant. Without one, no replies are produced.
func (s *Service) SetReplyScheduler(replies ReplyScheduler) {
	s.replies = replies
}

func (s *Service) lock(userID string) func() {
	s.locksMu.Lock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &userLock{}
		s.userLocks[userID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.userLocks, userID)
		}
		s.locksMu.Unlock()
	}
}

func (s *Service) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	return s.store.ListChats(ctx, userID)
}

func (s *Service) GetChat(ctx context.Context, userID, chatID string) (*Chat, error) {
	return s.store.GetChat(ctx, userID, chatID)
}

// Workspace returns the chat list and the active chat. A pointer to a chat that
// no longer exists reads as no active chat.
func (s *Service) Workspace(ctx context.Context, userID string) (*Workspace, error) {
	unlock := s.lock(userID)
	defer unlock()

	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, err
	}
	active, err := s.store.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	if active != nil && indexOf(chats, *active) < 0 {
		active = nil
	}
	return &Workspace{Chats: chats, ActiveChatID: active}, nil
}

// SendMessage appends a user message. With an empty chatID it starts a new chat
// whose first messages are the welcome text and content. The target chat becomes
// active and one assistant reply is scheduled for it.
func (s *Service) SendMessage(ctx context.Context, userID, chatID, content string) (*Chat, bool, error) {
	if strings.TrimSpace(content) == "" {
		return nil, false, ErrEmptyMessage
	}

	unlock := s.lock(userID)
	defer unlock()

	var (
		chat    *Chat
		created bool
		err     error
	)
	if chatID == "" {
		chat, err = s.createChat(ctx, userID, content)
		created = true
	} else {
		chat, err = s.appendUserMessage(ctx, userID, chatID, content)
	}
	if err != nil {
		return nil, false, err
	}

	if err := s.store.SetActive(ctx, userID, &chat.ID); err != nil {
		return nil, false, err
	}
	metrics.Messages.WithLabelValues(string(RoleUser)).Inc()

	if s.replies != nil {
		s.replies.ScheduleReply(logger.WithChatID(ctx, chat.ID), userID, chat.ID)
	}

	return chat, created, nil
}

func (s *Service) createChat(ctx context.Context, userID, content string) (*Chat, error) {
	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		id, createdAt := s.ids.Next()
		chat := &Chat{
			ID:    id,
			Title: TitleFrom(content),
			Messages: []Message{
				{Role: RoleAssistant, Content: s.welcomeMessage},
				{Role: RoleUser, Content: content},
			},
			CreatedAt: createdAt,
		}

		lastErr = s.store.CreateChat(ctx, userID, chat)
		if lastErr == nil {
			metrics.ChatsCreated.Inc()
			s.logger.WithContext(logger.WithChatID(ctx, chat.ID)).Debug("chat created",
				slog.String("title", chat.Title))
			s.publish(ctx, events.Event{Type: events.TypeChatCreated, UserID: userID, ChatID: chat.ID, Data: chat})
			return chat, nil
		}
		if !errors.Is(lastErr, ErrChatExists) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("failed to allocate chat id: %w", lastErr)
}

func (s *Service) appendUserMessage(ctx context.Context, userID, chatID, content string) (*Chat, error) {
	msg := Message{Role: RoleUser, Content: content}
	if err := s.store.AppendMessage(ctx, userID, chatID, msg); err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{Type: events.TypeMessageAppended, UserID: userID, ChatID: chatID, Data: msg})

	return s.store.GetChat(ctx, userID, chatID)
}

// AppendAssistantMessage writes an assistant reply. It returns ErrChatNotFound
// when the chat was deleted before the reply arrived.
func (s *Service) AppendAssistantMessage(ctx context.Context, userID, chatID, content string) error {
	unlock := s.lock(userID)
	defer unlock()

	msg := Message{Role: RoleAssistant, Content: content}
	if err := s.store.AppendMessage(ctx, userID, chatID, msg); err != nil {
		return err
	}
	metrics.Messages.WithLabelValues(string(RoleAssistant)).Inc()
	s.publish(ctx, events.Event{Type: events.TypeMessageAppended, UserID: userID, ChatID: chatID, Data: msg})
	return nil
}

// SelectChat makes an existing chat the active one.
func (s *Service) SelectChat(ctx context.Context, userID, chatID string) error {
	unlock := s.lock(userID)
	defer unlock()

	if _, err := s.store.GetChat(ctx, userID, chatID); err != nil {
		return err
	}
	if err := s.store.SetActive(ctx, userID, &chatID); err != nil {
		return err
	}
	s.publish(ctx, events.Event{Type: events.TypeChatSelected, UserID: userID, ChatID: chatID, ActiveChatID: &chatID})
	return nil
}

// NewChat clears the active chat so the next message starts a new one.
func (s *Service) NewChat(ctx context.Context, userID string) error {
	unlock := s.lock(userID)
	defer unlock()

	if err := s.store.SetActive(ctx, userID, nil); err != nil {
		return err
	}
	s.publish(ctx, events.Event{Type: events.TypeChatSelected, UserID: userID})
	return nil
}

// DeleteChat removes a chat. When it was the active one, the first remaining
// chat in list order becomes active, or none when the list is empty. It returns
// the active chat after the deletion.
func (s *Service) DeleteChat(ctx context.Context, userID, chatID string) (*string, error) {
	unlock := s.lock(userID)
	defer unlock()

	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, err
	}
	if indexOf(chats, chatID) < 0 {
		return nil, ErrChatNotFound
	}

	active, err := s.store.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	metrics.ChatsDeleted.Inc()

	if active != nil && *active == chatID {
		active = nextActive(chats, chatID)
		if err := s.store.SetActive(ctx, userID, active); err != nil {
			return nil, err
		}
	}

	s.publish(ctx, events.Event{Type: events.TypeChatDeleted, UserID: userID, ChatID: chatID, ActiveChatID: active})
	return active, nil
}

// ClearAll drops every chat of the user along with the active pointer.
func (s *Service) ClearAll(ctx context.Context, userID string) error {
	unlock := s.lock(userID)
	defer unlock()

	if err := s.store.DeleteAll(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, events.Event{Type: events.TypeChatsCleared, UserID: userID})
	return nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.LogError(ctx, err, "failed to publish chat event", slog.String("type", event.Type))
	}
}

// nextActive picks the first chat in list order other than the deleted one.
func nextActive(chats []Chat, deletedID string) *string {
	for _, c := range chats {
		if c.ID != deletedID {
			id := c.ID
			return &id
		}
	}
	return nil
}

func indexOf(chats []Chat, chatID string) int {
	for i, c := range chats {
		if c.ID == chatID {
			return i
		}
	}
	return -1
}
