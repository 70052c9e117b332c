package link

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrCodeInvalid is returned when an authorization code is unknown, expired,
// or already consumed. The three cases are deliberately indistinguishable.
var ErrCodeInvalid = errors.New("link: authorization code invalid")

// CodeRepository persists short-lived OAuth authorization codes.
//
// Only SHA-256 hashes of codes are stored; the raw code exists solely in the
// redirect back to the assistant platform.
type CodeRepository interface {
	// Insert stores a new authorization code hash for a user.
	Insert(ctx context.Context, codeHash, userID string, expiresAt time.Time) error

	// Consume atomically marks a code used and returns the user it was
	// issued for. Returns ErrCodeInvalid if the code is unknown, expired,
	// or already used.
	Consume(ctx context.Context, codeHash string) (string, error)
}

// SQLiteCodeRepository implements CodeRepository using SQLite.
type SQLiteCodeRepository struct {
	db *sql.DB
}

// NewSQLiteCodeRepository creates a new SQLite-backed code repository.
func NewSQLiteCodeRepository(db *sql.DB) *SQLiteCodeRepository {
	return &SQLiteCodeRepository{db: db}
}

// Insert stores a new authorization code hash for a user.
func (r *SQLiteCodeRepository) Insert(ctx context.Context, codeHash, userID string, expiresAt time.Time) error {
	query := `INSERT INTO oauth_codes (code_hash, user_id, expires_at, used, created_at)
		VALUES (?, ?, ?, 0, ?)`

	_, err := r.db.ExecContext(ctx, query,
		codeHash,
		userID,
		expiresAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting authorization code: %w", err)
	}
	return nil
}

// Consume atomically marks a code used and returns the issuing user.
//
// The guard clauses live in the UPDATE itself so two concurrent exchanges of
// the same code cannot both succeed.
func (r *SQLiteCodeRepository) Consume(ctx context.Context, codeHash string) (string, error) {
	query := `UPDATE oauth_codes
		SET used = 1
		WHERE code_hash = ? AND used = 0 AND expires_at > ?`

	result, err := r.db.ExecContext(ctx, query, codeHash, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("consuming authorization code: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return "", ErrCodeInvalid
	}

	var userID string
	err = r.db.QueryRowContext(ctx,
		`SELECT user_id FROM oauth_codes WHERE code_hash = ?`, codeHash,
	).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("reading consumed code: %w", err)
	}
	return userID, nil
}

// DeleteExpired removes codes whose expiry is in the past. Consumed codes
// are removed once expired too; housekeeping, safe to call periodically.
func (r *SQLiteCodeRepository) DeleteExpired(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_codes WHERE expires_at <= ?`,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("purging expired codes: %w", err)
	}
	return nil
}
