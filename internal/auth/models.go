package auth

import "time"

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile is what the browser keeps for the signed-in user.
type Profile struct {
	Email           string `json:"email"`
	Name            string `json:"name,omitempty"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

func (u *User) Profile() Profile {
	return Profile{
		Email:           u.Email,
		Name:            u.Name,
		IsAuthenticated: true,
	}
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse answers both /register and /login. Token and Email are always set.
type AuthResponse struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      Profile   `json:"user"`
}

// Session is the result of a successful register or login.
type Session struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

func (s *Session) Response() AuthResponse {
	return AuthResponse{
		Token:     s.Token,
		Email:     s.User.Email,
		Name:      s.User.Name,
		ExpiresAt: s.ExpiresAt,
		User:      s.User.Profile(),
	}
}
