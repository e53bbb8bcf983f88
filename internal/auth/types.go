package auth

import (
	"errors"
	"time"
)

// User is an immutable snapshot of an account row, fetched per request.
type User struct {
	ID           int64      `json:"user_id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	Level        Level      `json:"level"`
	PasswordHash string     `json:"-"` // never serialised
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// UserRef identifies an account by id, username or both. When both are set
// they must name the same account.
type UserRef struct {
	ID       int64
	Username string
}

// HasID reports whether the reference carries an id.
func (r UserRef) HasID() bool { return r.ID > 0 }

// HasUsername reports whether the reference carries a username.
func (r UserRef) HasUsername() bool { return r.Username != "" }

// IsZero reports whether neither field is set.
func (r UserRef) IsZero() bool { return !r.HasID() && !r.HasUsername() }

// SessionStatus is the derived state of a persisted session row.
type SessionStatus int

const (
	// SessionExpired covers both a past expiry and the absence of a row.
	SessionExpired SessionStatus = iota
	SessionActive
	// SessionError marks a row whose creation time lies in the future.
	SessionError
)

func (s SessionStatus) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionError:
		return "error"
	default:
		return "expired"
	}
}

// SessionState pairs a persisted row's user id with its derived status.
type SessionState struct {
	UserID int64
	Status SessionStatus
}

// Sentinel errors for auth operations.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUsernameExists  = errors.New("username already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrUserMismatch    = errors.New("user id and username name different accounts")
)
