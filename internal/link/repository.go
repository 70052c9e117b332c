package link

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for account link persistence.
type Repository interface {
	// GetBySubject retrieves the active link for an assistant subject.
	// Returns ErrNotFound if no active link exists.
	GetBySubject(ctx context.Context, subject string) (*AccountLink, error)

	// GetByRefreshHash retrieves the active link holding the given refresh
	// token hash. Used by the OAuth token endpoint on grant_type=refresh_token.
	GetByRefreshHash(ctx context.Context, refreshHash string) (*AccountLink, error)

	// ListByUser retrieves all links for a user, newest first. Includes
	// revoked links so the dashboard can show linking history.
	ListByUser(ctx context.Context, userID string) ([]AccountLink, error)

	// Create inserts a new active link.
	// Returns ErrSubjectExists if the subject is already bound.
	Create(ctx context.Context, l *AccountLink) error

	// RotateTokens replaces the stored token hashes and access-token expiry.
	RotateTokens(ctx context.Context, id, accessHash, refreshHash string, expiresAt time.Time) error

	// MarkSynced records a successful SYNC timestamp on the link.
	MarkSynced(ctx context.Context, id string, at time.Time) error

	// Revoke marks the subject's link revoked. Revoking an already-revoked
	// or unknown subject is a no-op: disconnects must be idempotent.
	Revoke(ctx context.Context, subject string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed link repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const linkColumns = `id, user_id, subject, access_token_hash, refresh_token_hash,
	expires_at, last_sync_at, status, created_at, updated_at`

// GetBySubject retrieves the active link for an assistant subject.
func (r *SQLiteRepository) GetBySubject(ctx context.Context, subject string) (*AccountLink, error) {
	query := `SELECT ` + linkColumns + `
		FROM account_links
		WHERE subject = ? AND status = ?`

	return r.getLink(ctx, query, subject, string(StatusActive))
}

// GetByRefreshHash retrieves the active link holding a refresh token hash.
func (r *SQLiteRepository) GetByRefreshHash(ctx context.Context, refreshHash string) (*AccountLink, error) {
	query := `SELECT ` + linkColumns + `
		FROM account_links
		WHERE refresh_token_hash = ? AND status = ?`

	return r.getLink(ctx, query, refreshHash, string(StatusActive))
}

// ListByUser retrieves all links for a user, newest first.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]AccountLink, error) {
	query := `SELECT ` + linkColumns + `
		FROM account_links
		WHERE user_id = ?
		ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	var links []AccountLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		links = append(links, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating links: %w", err)
	}

	return links, nil
}

// Create inserts a new active link.
func (r *SQLiteRepository) Create(ctx context.Context, l *AccountLink) error {
	if strings.TrimSpace(l.Subject) == "" {
		return ErrInvalidSubject
	}

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = StatusActive
	}

	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	query := `
		INSERT INTO account_links (
			id, user_id, subject, access_token_hash, refresh_token_hash,
			expires_at, last_sync_at, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		l.ID,
		l.UserID,
		l.Subject,
		l.AccessTokenHash,
		l.RefreshTokenHash,
		l.ExpiresAt.UTC().Format(time.RFC3339),
		nullableTime(l.LastSyncAt),
		string(l.Status),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSubjectExists
		}
		return fmt.Errorf("inserting link: %w", err)
	}

	return nil
}

// RotateTokens replaces the stored token hashes and access-token expiry.
func (r *SQLiteRepository) RotateTokens(ctx context.Context, id, accessHash, refreshHash string, expiresAt time.Time) error {
	now := time.Now().UTC()
	query := `
		UPDATE account_links
		SET access_token_hash = ?, refresh_token_hash = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		accessHash,
		refreshHash,
		expiresAt.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
		string(StatusActive),
	)
	if err != nil {
		return fmt.Errorf("rotating link tokens: %w", err)
	}

	return checkAffected(result)
}

// MarkSynced records a successful SYNC timestamp on the link.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	now := time.Now().UTC()
	query := `
		UPDATE account_links
		SET last_sync_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		at.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
		string(StatusActive),
	)
	if err != nil {
		return fmt.Errorf("marking link synced: %w", err)
	}

	return checkAffected(result)
}

// Revoke marks the subject's link revoked. Idempotent: revoking an
// already-revoked or unknown subject succeeds without effect.
func (r *SQLiteRepository) Revoke(ctx context.Context, subject string) error {
	now := time.Now().UTC()
	query := `
		UPDATE account_links
		SET status = ?, updated_at = ?
		WHERE subject = ? AND status = ?`

	_, err := r.db.ExecContext(ctx, query,
		string(StatusRevoked),
		now.Format(time.RFC3339),
		subject,
		string(StatusActive),
	)
	if err != nil {
		return fmt.Errorf("revoking link: %w", err)
	}

	return nil
}

// getLink executes a single-row link query.
func (r *SQLiteRepository) getLink(ctx context.Context, query string, args ...any) (*AccountLink, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	l, err := scanLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying link: %w", err)
	}
	return l, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanLink scans a row or rows result into an AccountLink.
func scanLink(scanner rowScanner) (*AccountLink, error) {
	var l AccountLink
	var lastSync sql.NullString
	var expiresAt, status, createdAt, updatedAt string

	err := scanner.Scan(
		&l.ID,
		&l.UserID,
		&l.Subject,
		&l.AccessTokenHash,
		&l.RefreshTokenHash,
		&expiresAt,
		&lastSync,
		&status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Status = Status(status)

	if lastSync.Valid {
		t, err := time.Parse(time.RFC3339, lastSync.String)
		if err == nil {
			l.LastSyncAt = &t
		}
	}

	var parseErr error
	l.ExpiresAt, parseErr = time.Parse(time.RFC3339, expiresAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", parseErr)
	}
	l.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	l.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &l, nil
}

// checkAffected converts a zero-rows-affected result into ErrNotFound.
func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
