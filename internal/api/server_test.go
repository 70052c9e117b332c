package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/casalink/casalink/internal/audit"
	"github.com/casalink/casalink/internal/auth"
	"github.com/casalink/casalink/internal/device"
	"github.com/casalink/casalink/internal/infrastructure/config"
	"github.com/casalink/casalink/internal/infrastructure/logging"
	"github.com/casalink/casalink/internal/link"
	"github.com/casalink/casalink/internal/platform"
	"github.com/casalink/casalink/internal/smarthome"
)

const testSchema = `
	CREATE TABLE users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		display_name  TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'active',
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	) STRICT;
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
	CREATE TABLE account_links (
		id                 TEXT PRIMARY KEY,
		user_id            TEXT NOT NULL,
		subject            TEXT NOT NULL UNIQUE,
		access_token_hash  TEXT NOT NULL,
		refresh_token_hash TEXT NOT NULL,
		expires_at         TEXT NOT NULL,
		last_sync_at       TEXT,
		status             TEXT NOT NULL DEFAULT 'active',
		created_at         TEXT NOT NULL,
		updated_at         TEXT NOT NULL
	) STRICT;
	CREATE TABLE oauth_codes (
		code_hash  TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		used       INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	) STRICT;
	CREATE TABLE audit_logs (
		id          TEXT PRIMARY KEY,
		action      TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id   TEXT,
		user_id     TEXT,
		source      TEXT NOT NULL,
		details     TEXT,
		created_at  TEXT NOT NULL
	) STRICT;
`

const (
	testJWTSecret    = "test-secret-at-least-32-characters-long"
	testClientID     = "assistant-client"
	testClientSecret = "assistant-secret"
	testRedirectURI  = "https://assistant.example/callback"
)

// stubGateway satisfies platform.Gateway for handler tests that never reach
// the device platform. Fulfillment tests that exercise QUERY/EXECUTE swap in
// their own data.
type stubGateway struct {
	rpcs      []stubRPC
	telemetry map[string]map[string]string
	attrs     map[string]map[string]any
}

type stubRPC struct {
	controllerID string
	method       string
	params       any
}

func (g *stubGateway) SendRPC(_ context.Context, controllerID, method string, params any) error {
	g.rpcs = append(g.rpcs, stubRPC{controllerID: controllerID, method: method, params: params})
	return nil
}

func (g *stubGateway) LatestTelemetry(_ context.Context, controllerID string, _ []string) (map[string]string, error) {
	values, ok := g.telemetry[controllerID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return values, nil
}

func (g *stubGateway) Attributes(_ context.Context, controllerID string, _ string) (map[string]any, error) {
	values, ok := g.attrs[controllerID]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return values, nil
}

// testServer bundles the server under test with its collaborators so tests
// can seed state directly.
type testServer struct {
	srv     *Server
	handler http.Handler
	db      *sql.DB
	users   auth.UserRepository
	devices device.Repository
	links   link.Repository
	codes   link.CodeRepository
	gateway *stubGateway
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if _, err := db.Exec(testSchema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	users := auth.NewUserRepository(db)
	devices := device.NewSQLiteRepository(db)
	links := link.NewSQLiteRepository(db)
	codes := link.NewSQLiteCodeRepository(db)
	auditRepo := audit.NewSQLiteRepository(db)
	gateway := &stubGateway{}
	logger := logging.Default()

	dispatcher := smarthome.NewDispatcher(
		smarthome.NewRepositoryRegistry(devices, links),
		gateway,
		logger,
	)

	srv, err := New(Deps{
		Config: config.API{Host: "127.0.0.1", Port: 0},
		Security: config.Security{
			JWT: config.JWT{
				Secret:          testJWTSecret,
				AccessTokenTTL:  15,
				RefreshTokenTTL: 60 * 24,
			},
			OAuth: config.OAuth{
				ClientID:     testClientID,
				ClientSecret: testClientSecret,
				RedirectURIs: []string{testRedirectURI},
				CodeTTL:      600,
			},
		},
		Logger:     logger,
		Users:      users,
		Devices:    devices,
		Links:      links,
		Codes:      codes,
		Audit:      auditRepo,
		Dispatcher: dispatcher,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testServer{
		srv:     srv,
		handler: srv.buildRouter(),
		db:      db,
		users:   users,
		devices: devices,
		links:   links,
		codes:   codes,
		gateway: gateway,
	}
}

// createUser registers a user directly against the repository and returns it.
func (ts *testServer) createUser(t *testing.T, username, password string) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	user := &auth.User{
		Username:     username,
		DisplayName:  "Test User",
		PasswordHash: hash,
	}
	if err := ts.users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user: %v", err)
	}
	return user
}

// userToken mints a user-scope access token for a user ID.
func userToken(t *testing.T, userID string) string {
	t.Helper()

	token, err := auth.GenerateAccessToken(userID, auth.ScopeUser, testJWTSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return token
}

// doJSON performs a request with an optional JSON body and bearer token.
func (ts *testServer) doJSON(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// decodeBody unmarshals a recorded JSON response into v.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()

	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func TestNew_MissingDependencies(t *testing.T) {
	logger := logging.Default()

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{}},
		{"no users", Deps{Logger: logger}},
		{"no jwt secret", Deps{
			Logger:  logger,
			Users:   auth.NewUserRepository(nil),
			Devices: device.NewSQLiteRepository(nil),
			Links:   link.NewSQLiteRepository(nil),
			Codes:   link.NewSQLiteCodeRepository(nil),
			Dispatcher: smarthome.NewDispatcher(
				smarthome.NewRepositoryRegistry(nil, nil), &stubGateway{}, logger),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	ts := setupServer(t)

	rec := ts.doJSON(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}

	var body map[string]any
	decodeBody(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}
