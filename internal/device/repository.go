package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves an active device by its unique identifier.
	// Returns ErrNotFound if the device does not exist or is soft-deleted.
	GetByID(ctx context.Context, id string) (*Device, error)

	// ListByOwner retrieves all active devices owned by a user, in
	// provisioning order (created_at ascending). Assistants may display
	// devices in this order.
	ListByOwner(ctx context.Context, userID string) ([]Device, error)

	// ListByController retrieves all active devices addressed through a
	// platform controller unit. Used by the telemetry ingest to map
	// controller updates back to registry devices.
	ListByController(ctx context.Context, controllerID string) ([]Device, error)

	// Create inserts a new device. The ID is generated if empty.
	// Returns ErrExists if a device with the same ID already exists.
	Create(ctx context.Context, d *Device) error

	// Update modifies an existing device's metadata and capabilities.
	// Returns ErrNotFound if the device does not exist.
	Update(ctx context.Context, d *Device) error

	// SetLiveness updates the online flag and last-seen timestamp.
	// Last-writer-wins; the values are advisory metadata.
	SetLiveness(ctx context.Context, id string, online bool, lastSeen time.Time) error

	// MergeState merges a state fragment into the device's cached state.
	MergeState(ctx context.Context, id string, state State) error

	// SoftDelete marks a device deleted. The row is retained.
	// Returns ErrNotFound if the device does not exist or is already deleted.
	SoftDelete(ctx context.Context, id string) error
}

// Validate checks the invariants a device must satisfy before persistence.
func Validate(d *Device) error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrInvalidName
	}
	if len(d.Capabilities) == 0 {
		return ErrNoCapabilities
	}
	if strings.TrimSpace(d.ControllerID) == "" {
		return ErrInvalidController
	}
	return nil
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, user_id, name, label, capabilities, controller_id,
	sub_device_id, online, last_seen, state, status, created_at, updated_at`

// GetByID retrieves an active device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + `
		FROM devices
		WHERE id = ? AND status = ?`

	row := r.db.QueryRowContext(ctx, query, id, string(StatusActive))
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// ListByOwner retrieves all active devices owned by a user in provisioning order.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, userID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + `
		FROM devices
		WHERE user_id = ? AND status = ?
		ORDER BY created_at, id`

	return r.queryDevices(ctx, query, userID, string(StatusActive))
}

// ListByController retrieves all active devices addressed through a controller.
func (r *SQLiteRepository) ListByController(ctx context.Context, controllerID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + `
		FROM devices
		WHERE controller_id = ? AND status = ?
		ORDER BY sub_device_id`

	return r.queryDevices(ctx, query, controllerID, string(StatusActive))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	if err := Validate(d); err != nil {
		return err
	}

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = StatusActive
	}
	if d.State == nil {
		d.State = State{}
	}

	capsJSON, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}
	stateJSON, err := json.Marshal(d.State)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, user_id, name, label, capabilities, controller_id,
			sub_device_id, online, last_seen, state, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		d.ID,
		d.UserID,
		d.Name,
		d.Label,
		string(capsJSON),
		d.ControllerID,
		d.SubDeviceID,
		boolToInt(d.Online),
		nullableTime(d.LastSeen),
		string(stateJSON),
		string(d.Status),
		d.CreatedAt.Format(time.RFC3339),
		d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device's metadata and capabilities.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	if err := Validate(d); err != nil {
		return err
	}

	capsJSON, err := json.Marshal(d.Capabilities)
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}

	d.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, label = ?, capabilities = ?, controller_id = ?,
			sub_device_id = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		d.Name,
		d.Label,
		string(capsJSON),
		d.ControllerID,
		d.SubDeviceID,
		d.UpdatedAt.Format(time.RFC3339),
		d.ID,
		string(StatusActive),
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	return checkAffected(result)
}

// SetLiveness updates the online flag and last-seen timestamp.
func (r *SQLiteRepository) SetLiveness(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET online = ?, last_seen = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(online),
		lastSeen.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
		string(StatusActive),
	)
	if err != nil {
		return fmt.Errorf("updating device liveness: %w", err)
	}

	return checkAffected(result)
}

// MergeState merges the given state fields into the device's cached state.
// This allows partial updates (e.g., updating "on" without losing "speed").
func (r *SQLiteRepository) MergeState(ctx context.Context, id string, state State) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	now := time.Now().UTC()
	// json_patch(target, patch) applies patch keys to target, preserving
	// existing keys not present in patch.
	query := `
		UPDATE devices
		SET state = json_patch(COALESCE(state, '{}'), ?),
		    updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(stateJSON),
		now.Format(time.RFC3339),
		id,
		string(StatusActive),
	)
	if err != nil {
		return fmt.Errorf("merging device state: %w", err)
	}

	return checkAffected(result)
}

// SoftDelete marks a device deleted without removing the row.
func (r *SQLiteRepository) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(StatusDeleted),
		now.Format(time.RFC3339),
		id,
		string(StatusActive),
	)
	if err != nil {
		return fmt.Errorf("soft-deleting device: %w", err)
	}

	return checkAffected(result)
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var capsJSON, stateJSON string
	var lastSeen sql.NullString
	var online int
	var status, createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.UserID,
		&d.Name,
		&d.Label,
		&capsJSON,
		&d.ControllerID,
		&d.SubDeviceID,
		&online,
		&lastSeen,
		&stateJSON,
		&status,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Online = online != 0
	d.Status = Status(status)

	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err == nil {
			d.LastSeen = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(capsJSON), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshalling capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}

	return &d, nil
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

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
