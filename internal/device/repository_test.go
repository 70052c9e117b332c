package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the devices table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			name          TEXT NOT NULL,
			label         TEXT NOT NULL DEFAULT '',
			capabilities  TEXT NOT NULL DEFAULT '[]',
			controller_id TEXT NOT NULL,
			sub_device_id INTEGER NOT NULL DEFAULT 0,
			online        INTEGER NOT NULL DEFAULT 0,
			last_seen     TEXT,
			state         TEXT NOT NULL DEFAULT '{}',
			status        TEXT NOT NULL DEFAULT 'active',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_devices_user_id ON devices(user_id);
		CREATE INDEX idx_devices_controller_id ON devices(controller_id);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testDevice creates a device for testing.
func testDevice(id, userID, name string) *Device {
	return &Device{
		ID:           id,
		UserID:       userID,
		Name:         name,
		Capabilities: []Capability{CapLight, CapDimmer},
		ControllerID: "ctrl-001",
		SubDeviceID:  0,
		State:        State{},
	}
}

func TestSQLiteRepository_Create(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("creates device successfully", func(t *testing.T) {
		d := testDevice("dev-001", "user-1", "Living Room Light")

		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := repo.GetByID(ctx, "dev-001")
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if got.Name != "Living Room Light" {
			t.Errorf("Name = %q, want %q", got.Name, "Living Room Light")
		}
		if got.Status != StatusActive {
			t.Errorf("Status = %q, want active", got.Status)
		}
		if len(got.Capabilities) != 2 {
			t.Errorf("Capabilities = %v, want 2 entries", got.Capabilities)
		}
	})

	t.Run("generates id if empty", func(t *testing.T) {
		d := testDevice("", "user-1", "Hallway Outlet")
		d.Capabilities = []Capability{CapOutlet}

		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if d.ID == "" {
			t.Error("expected generated ID")
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		d := testDevice("dev-dup", "user-1", "First")
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		dup := testDevice("dev-dup", "user-1", "Second")
		if err := repo.Create(ctx, dup); !errors.Is(err, ErrExists) {
			t.Errorf("Create() error = %v, want ErrExists", err)
		}
	})

	t.Run("rejects empty capability set", func(t *testing.T) {
		d := testDevice("dev-nocaps", "user-1", "Mystery Box")
		d.Capabilities = nil

		if err := repo.Create(ctx, d); !errors.Is(err, ErrNoCapabilities) {
			t.Errorf("Create() error = %v, want ErrNoCapabilities", err)
		}
	})
}

func TestSQLiteRepository_ListByOwner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	// Create devices with distinct creation times to verify ordering.
	base := time.Now().UTC().Add(-time.Hour)
	for i, name := range []string{"First", "Second", "Third"} {
		d := testDevice("", "user-1", name)
		d.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}
	// Device for a different owner must not appear.
	other := testDevice("", "user-2", "Not Mine")
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	devices, err := repo.ListByOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}

	if len(devices) != 3 {
		t.Fatalf("ListByOwner() returned %d devices, want 3", len(devices))
	}
	for i, want := range []string{"First", "Second", "Third"} {
		if devices[i].Name != want {
			t.Errorf("devices[%d].Name = %q, want %q (provisioning order)", i, devices[i].Name, want)
		}
	}
}

func TestSQLiteRepository_SoftDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDevice("dev-del", "user-1", "Doomed Lamp")
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.SoftDelete(ctx, "dev-del"); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}

	// Deleted device is invisible to lookups...
	if _, err := repo.GetByID(ctx, "dev-del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrNotFound", err)
	}

	// ...but the row is retained.
	var status string
	if err := db.QueryRow("SELECT status FROM devices WHERE id = ?", "dev-del").Scan(&status); err != nil {
		t.Fatalf("raw row lookup failed: %v", err)
	}
	if status != string(StatusDeleted) {
		t.Errorf("status = %q, want deleted", status)
	}

	// Deleting again reports not found.
	if err := repo.SoftDelete(ctx, "dev-del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second SoftDelete() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_SetLiveness(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDevice("dev-live", "user-1", "Fan")
	d.Capabilities = []Capability{CapFan, CapSpeed}
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	seen := time.Now().UTC().Truncate(time.Second)
	if err := repo.SetLiveness(ctx, "dev-live", true, seen); err != nil {
		t.Fatalf("SetLiveness() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dev-live")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.Online {
		t.Error("Online = false, want true")
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, seen)
	}

	if err := repo.SetLiveness(ctx, "no-such-device", true, seen); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetLiveness() unknown device error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRepository_MergeState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	d := testDevice("dev-state", "user-1", "Dimmer")
	d.State = State{"on": true, "brightness": float64(40)}
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.MergeState(ctx, "dev-state", State{"brightness": float64(80)}); err != nil {
		t.Fatalf("MergeState() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "dev-state")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.State["brightness"] != float64(80) {
		t.Errorf("brightness = %v, want 80", got.State["brightness"])
	}
	if got.State["on"] != true {
		t.Errorf("on = %v, want true (existing keys preserved)", got.State["on"])
	}
}
