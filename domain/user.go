package domain

import (
	"net/mail"
	"strings"
	"time"
)

const minPasswordLength = 6

// User is a locally registered account.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Credentials are submitted on sign-up and sign-in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Normalize lower-cases the email and validates both fields.
func (c *Credentials) Normalize() error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.Email == "" {
		return ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(c.Email)
	if err != nil || addr.Address != c.Email {
		return ErrInvalidEmail
	}
	// Emails double as table keys, which cannot hold these characters.
	if strings.ContainsAny(c.Email, `/\#?`) {
		return ErrInvalidEmail
	}
	if len(c.Password) < minPasswordLength {
		return ErrPasswordTooWeak
	}
	return nil
}
