package link

import "time"

// Status represents the account link lifecycle state.
type Status string

const (
	// StatusActive means the assistant may fulfill intents for this link.
	StatusActive Status = "active"

	// StatusRevoked means the link was disconnected. The row is retained
	// so a re-link can be audited against the original grant.
	StatusRevoked Status = "revoked"
)

// AccountLink ties an assistant-platform identity to a local user account.
type AccountLink struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Subject is the opaque identifier embedded in assistant access tokens.
	// One subject maps to exactly one active link.
	Subject string `json:"subject"`

	// AccessTokenHash and RefreshTokenHash are SHA-256 hashes of the most
	// recently issued tokens. Raw tokens are never persisted.
	AccessTokenHash  string `json:"-"`
	RefreshTokenHash string `json:"-"`

	// ExpiresAt is the expiry of the current access token.
	ExpiresAt time.Time `json:"expires_at"`

	// LastSyncAt records the most recent successful SYNC for this link.
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the link may fulfill assistant intents.
func (l *AccountLink) Active() bool {
	return l.Status == StatusActive
}
