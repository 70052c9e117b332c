package auth

import (
	"errors"
	"regexp"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// UserStatus represents the user account lifecycle state.
type UserStatus string

// User accounts are soft-deleted: the row is retained for audit purposes
// and foreign keys from devices and account links stay resolvable.
const (
	UserActive  UserStatus = "active"
	UserDeleted UserStatus = "deleted"
)

// User represents a registered account that owns devices.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"display_name"`
	PasswordHash string     `json:"-"` // never serialised
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Scope identifies what a bearer token grants access to.
type Scope string

const (
	// ScopeUser is issued at dashboard login; the subject is a user ID.
	ScopeUser Scope = "user"

	// ScopeAssistant is issued during account linking; the subject is an
	// account-link subject identifier.
	ScopeAssistant Scope = "assistant"
)

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrUsernameExists     = errors.New("username already exists")
	ErrTokenInvalid       = errors.New("invalid token")
)
