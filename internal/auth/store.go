package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var ErrUserNotFound = errors.New("user not found")

// UserStore persists accounts. Create returns ErrUserExists when the email is taken.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, u *User) error
}

// SQLUserStore is a UserStore over database/sql. Queries run on both postgres and sqlite.
type SQLUserStore struct {
	db *sql.DB
}

func NewSQLUserStore(db *sql.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

const selectUser = `SELECT id, email, name, password_hash, is_active, created_at FROM users`

func (s *SQLUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, selectUser+` WHERE email = $1`, email)
}

func (s *SQLUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	return s.getOne(ctx, selectUser+` WHERE id = $1`, id)
}

func (s *SQLUserStore) getOne(ctx context.Context, query string, arg string) (*User, error) {
	var u User
	var name sql.NullString

	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Email, &name, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	u.Name = name.String

	return &u, nil
}

func (s *SQLUserStore) Create(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (id, email, name, password_hash, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	name := sql.NullString{String: u.Name, Valid: u.Name != ""}
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Email, name, u.PasswordHash, u.IsActive, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
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
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// MemoryUserStore keeps accounts in process memory.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := *s.byID[id]
	return &u, nil
}

func (s *MemoryUserStore) GetByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *MemoryUserStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, exists := s.byEmail[email]; exists {
		return ErrUserExists
	}
	stored := *u
	s.byID[u.ID] = &stored
	s.byEmail[email] = u.ID
	return nil
}

// SetActive toggles an account. Used to disable users without a database.
func (s *MemoryUserStore) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	u.IsActive = active
	return nil
}
