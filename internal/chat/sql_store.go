package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// appendRetries bounds retries when two writers race for the same message seq.
const appendRetries = 3

// SQLStore is a Store over database/sql. Queries run on both postgres and sqlite.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, created_at
		FROM chats
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []Chat{}
	index := make(map[string]int)
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		c.Messages = []Message{}
		index[c.ID] = len(chats)
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}
	if len(chats) == 0 {
		return chats, nil
	}

	msgRows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, role, content
		FROM chat_messages
		WHERE user_id = $1
		ORDER BY chat_id, seq
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var chatID string
		var m Message
		if err := msgRows.Scan(&chatID, &m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if i, ok := index[chatID]; ok {
			chats[i].Messages = append(chats[i].Messages, m)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return chats, nil
}

func (s *SQLStore) GetChat(ctx context.Context, userID, chatID string) (*Chat, error) {
	var c Chat
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at FROM chats WHERE user_id = $1 AND id = $2
	`, userID, chatID).Scan(&c.ID, &c.Title, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM chat_messages
		WHERE user_id = $1 AND chat_id = $2
		ORDER BY seq
	`, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	c.Messages = []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		c.Messages = append(c.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return &c, nil
}

func (s *SQLStore) CreateChat(ctx context.Context, userID string, chat *Chat) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chats (user_id, id, title, created_at) VALUES ($1, $2, $3, $4)
		`, userID, chat.ID, chat.Title, chat.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrChatExists
			}
			return fmt.Errorf("failed to insert chat: %w", err)
		}

		for i, m := range chat.Messages {
			if err := insertMessage(ctx, tx, userID, chat.ID, i+1, m, chat.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) AppendMessage(ctx context.Context, userID, chatID string, msg Message) error {
	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err = s.inTx(ctx, func(tx *sql.Tx) error {
			var exists int
			err := tx.QueryRowContext(ctx, `
				SELECT 1 FROM chats WHERE user_id = $1 AND id = $2
			`, userID, chatID).Scan(&exists)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrChatNotFound
				}
				return fmt.Errorf("failed to query chat: %w", err)
			}

			var last int
			if err := tx.QueryRowContext(ctx, `
				SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE user_id = $1 AND chat_id = $2
			`, userID, chatID).Scan(&last); err != nil {
				return fmt.Errorf("failed to query last message: %w", err)
			}

			return insertMessage(ctx, tx, userID, chatID, last+1, msg, time.Now().UTC())
		})
		if err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return err
}

func (s *SQLStore) DeleteChat(ctx context.Context, userID, chatID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM chat_messages WHERE user_id = $1 AND chat_id = $2
		`, userID, chatID); err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE user_id = $1 AND id = $2`, userID, chatID)
		if err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}
		if affected == 0 {
			return ErrChatNotFound
		}
		return nil
	})
}

func (s *SQLStore) DeleteAll(ctx context.Context, userID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, query := range []string{
			`DELETE FROM chat_messages WHERE user_id = $1`,
			`DELETE FROM chats WHERE user_id = $1`,
			`DELETE FROM chat_workspaces WHERE user_id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, query, userID); err != nil {
				return fmt.Errorf("failed to clear chats: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) GetActive(ctx context.Context, userID string) (*string, error) {
	var active sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT active_chat_id FROM chat_workspaces WHERE user_id = $1
	`, userID).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query active chat: %w", err)
	}
	if !active.Valid {
		return nil, nil
	}
	return &active.String, nil
}

func (s *SQLStore) SetActive(ctx context.Context, userID string, chatID *string) error {
	var active sql.NullString
	if chatID != nil {
		active = sql.NullString{String: *chatID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_workspaces (user_id, active_chat_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET active_chat_id = excluded.active_chat_id
	`, userID, active)
	if err != nil {
		return fmt.Errorf("failed to set active chat: %w", err)
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, userID, chatID string, seq int, m Message, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chat_messages (user_id, chat_id, seq, role, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, userID, chatID, seq, string(m.Role), m.Content, at)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
