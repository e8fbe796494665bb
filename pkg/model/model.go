// Package model defines the core domain types for GoChat.
package model

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const MaxUsernameLength = 32

// MaxMessageLength caps a single chat line in runes.
const MaxMessageLength = 2000

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")

var ErrMessageEmpty = errors.New("message must not be empty")
var ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", MaxMessageLength)

// User represents a registered user. PasswordHash is a bcrypt hash; the
// plaintext password never leaves the authentication exchange.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session represents one authenticated, live client connection (in-memory only).
// The Conn handle is owned exclusively by the server event loop.
type Session struct {
	Conn     net.Conn
	Addr     string // peer network address as seen by the server
	Username string // immutable once set
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric, underscore,
// or hyphen characters. Returns nil on success or a descriptive error.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

// ValidateMessage checks that a chat line is non-blank and within the length cap.
func ValidateMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrMessageEmpty
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// SanitizeText collapses newlines to spaces and strips all other control
// characters from user-supplied text to prevent terminal escape injection and
// null-byte attacks.
func SanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' ' // collapse newlines to spaces
		}
		if unicode.IsControl(r) {
			return -1 // strip all other control chars (null, bell, ANSI escapes, etc.)
		}
		return r
	}, s)
}
