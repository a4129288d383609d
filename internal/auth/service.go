package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pravoai/pravo-api/internal/logger"
	"github.com/pravoai/pravo-api/internal/metrics"
)

const (
	minPasswordLength = 6
	minNameLength     = 2

	// bcrypt only reads the first 72 bytes of a password.
	maxPasswordBytes = 72
)

var (
	ErrUserExists         = errors.New("Этот пользователь уже зарегистрирован")
	ErrInvalidCredentials = errors.New("Неверный email или пароль")
	ErrInactive           = errors.New("Пользователь не активен")

	ErrInvalidEmail     = errors.New("Некорректный email")
	ErrPasswordTooShort = fmt.Errorf("Пароль должен содержать не менее %d символов", minPasswordLength)
	ErrPasswordTooLong  = fmt.Errorf("Пароль не должен превышать %d байт", maxPasswordBytes)
	ErrNameTooShort     = fmt.Errorf("Имя должно содержать не менее %d символов", minNameLength)
)

var validate = validator.New()

// IsValidationError reports whether err is caused by bad user input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrPasswordTooShort) ||
		errors.Is(err, ErrPasswordTooLong) ||
		errors.Is(err, ErrNameTooShort)
}

// SessionClearer drops a user's chat sessions.
type SessionClearer interface {
	ClearAll(ctx context.Context, userID string) error
}

type Service struct {
	store    UserStore
	hasher   *PasswordHasher
	issuer   *TokenIssuer
	revoked  *RevocationList
	sessions SessionClearer
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(store UserStore, hasher *PasswordHasher, issuer *TokenIssuer, revoked *RevocationList, sessions SessionClearer, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		hasher:   hasher,
		issuer:   issuer,
		revoked:  revoked,
		sessions: sessions,
		logger:   log.WithComponent("auth"),
		now:      time.Now,
	}
}

// Register creates an active account and signs it in.
func (s *Service) Register(ctx context.Context, email, password, name string) (*Session, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)

	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return nil, ErrPasswordTooShort
	}
	if len(password) > maxPasswordBytes {
		return nil, ErrPasswordTooLong
	}
	if name != "" && utf8.RuneCountInString(name) < minNameLength {
		return nil, ErrNameTooShort
	}

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}

	session, err := s.issue(u)
	if err != nil {
		return nil, err
	}

	metrics.Registrations.Inc()
	s.logger.WithContext(ctx).Info("user registered", slog.String("user_id", u.ID))
	return session, nil
}

// Login checks credentials and signs the user in. Unknown emails and wrong
// passwords produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" || len(password) > maxPasswordBytes {
		metrics.Logins.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}

	u, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			metrics.Logins.WithLabelValues("invalid").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := s.hasher.Compare(u.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("failed to compare password: %w", err)
	}
	if !ok {
		metrics.Logins.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		metrics.Logins.WithLabelValues("inactive").Inc()
		return nil, ErrInactive
	}

	session, err := s.issue(u)
	if err != nil {
		return nil, err
	}

	metrics.Logins.WithLabelValues("success").Inc()
	s.logger.WithContext(ctx).Info("user logged in", slog.String("user_id", u.ID))
	return session, nil
}

// Logout revokes the token and clears the user's chat sessions.
func (s *Service) Logout(ctx context.Context, token string, claims *Claims) error {
	until := claims.ExpiresAtTime()
	if until.IsZero() {
		until = s.now().Add(s.issuer.ttl)
	}
	s.revoked.Revoke(revocationKey(token, claims), until)

	if err := s.sessions.ClearAll(ctx, claims.UserID); err != nil {
		return fmt.Errorf("failed to clear chat sessions: %w", err)
	}

	s.logger.WithContext(ctx).Info("user logged out", slog.String("user_id", claims.UserID))
	return nil
}

// Profile returns the stored profile, or one built from the token for users
// that only exist at an external identity provider.
func (s *Service) Profile(ctx context.Context, claims *Claims) (Profile, error) {
	u, err := s.store.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Profile{Email: claims.Email, Name: claims.Name, IsAuthenticated: true}, nil
		}
		return Profile{}, err
	}
	return u.Profile(), nil
}

func (s *Service) issue(u *User) (*Session, error) {
	token, expiresAt, err := s.issuer.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Token: token, ExpiresAt: expiresAt}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// revocationKey prefers the token id and falls back to the raw token.
func revocationKey(token string, claims *Claims) string {
	if claims.ID != "" {
		return claims.ID
	}
	return token
}
