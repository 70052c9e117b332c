package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfig writes a config file and points CASALINK_CONFIG at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("CASALINK_CONFIG", configPath)
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("CASALINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingJWTSecret verifies run fails when the JWT secret is absent.
func TestRun_MissingJWTSecret(t *testing.T) {
	t.Setenv("CASALINK_JWT_SECRET", "")
	writeConfig(t, `
database:
  path: ""

platform:
  base_url: "https://platform.example"
  username: "tenant@example.com"
  password: "secret"

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail without a JWT secret")
	}
}

// TestRun_CleanStartupAndShutdown exercises the full wiring path with the
// optional components disabled: config, migrations, repositories,
// dispatcher, and API server must all come up, then shut down on cancel.
func TestRun_CleanStartupAndShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "casalink.db")
	writeConfig(t, `
database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5

api:
  host: "127.0.0.1"
  port: 38745

security:
  jwt:
    secret: "test-secret-at-least-32-characters-long"
  oauth:
    client_id: "assistant-client"
    client_secret: "assistant-secret"
    redirect_uris:
      - "https://assistant.example/callback"

platform:
  base_url: "https://platform.example"
  username: "tenant@example.com"
  password: "secret"
  rpc_timeout: 5000

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout
`)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- run(ctx)
	}()

	// Give startup a moment, then signal shutdown.
	time.Sleep(500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not shut down after cancel")
	}

	// The database file must exist with the schema applied.
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file missing: %v", err)
	}
}
