package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/casalink/casalink/internal/infrastructure/config"
	"github.com/casalink/casalink/internal/infrastructure/logging"
)

// fakePlatform is a minimal in-process platform API for gateway tests.
type fakePlatform struct {
	mu         sync.Mutex
	loginCount int
	rpcBodies  []map[string]any

	token      string
	rejectOnce bool // reject the first authenticated request with 401
	rejected   bool
}

func (f *fakePlatform) handler() http.Handler {
	mux := chi.NewRouter()

	mux.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.loginCount++
		f.mu.Unlock()

		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["username"] != "tenant@example.com" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": f.token})
	})

	mux.Post("/api/plugins/rpc/oneway/{id}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.rpcBodies = append(f.rpcBodies, body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.Get("/api/plugins/telemetry/DEVICE/{id}/values/timeseries", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		if chi.URLParam(r, "id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"state1": []map[string]any{{"ts": 1700000001000, "value": "true"}},
			"speed":  []map[string]any{{"ts": 1700000002000, "value": "3"}},
		})
	})

	mux.Get("/api/plugins/telemetry/DEVICE/{id}/values/attributes/{scope}", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(w, r) {
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"key": "state1", "value": true},
			{"key": "state2", "value": false},
		})
	})

	return mux
}

func (f *fakePlatform) authorized(w http.ResponseWriter, r *http.Request) bool {
	f.mu.Lock()
	reject := f.rejectOnce && !f.rejected
	if reject {
		f.rejected = true
	}
	f.mu.Unlock()

	if reject || r.Header.Get("X-Authorization") != "Bearer "+f.token {
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

func newTestClient(t *testing.T, f *fakePlatform) *Client {
	t.Helper()

	if f.token == "" {
		f.token = "session-token"
	}

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	return NewClient(config.Platform{
		BaseURL:    srv.URL,
		Username:   "tenant@example.com",
		Password:   "secret",
		RPCTimeout: 2000,
	}, logging.Default())
}

func TestClient_SendRPC(t *testing.T) {
	f := &fakePlatform{}
	client := newTestClient(t, f)
	ctx := context.Background()

	err := client.SendRPC(ctx, "ctrl-001", "setDeviceState", map[string]any{
		"targetSubDeviceId": 1,
		"state":             true,
	})
	if err != nil {
		t.Fatalf("SendRPC() error = %v", err)
	}

	if len(f.rpcBodies) != 1 {
		t.Fatalf("platform received %d RPCs, want 1", len(f.rpcBodies))
	}
	if f.rpcBodies[0]["method"] != "setDeviceState" {
		t.Errorf("method = %v, want setDeviceState", f.rpcBodies[0]["method"])
	}
}

func TestClient_SessionTokenCached(t *testing.T) {
	f := &fakePlatform{}
	client := newTestClient(t, f)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := client.SendRPC(ctx, "ctrl-001", "setDeviceState", nil); err != nil {
			t.Fatalf("SendRPC() error = %v", err)
		}
	}

	if f.loginCount != 1 {
		t.Errorf("loginCount = %d, want 1 (token should be cached)", f.loginCount)
	}
}

func TestClient_RetriesOnceOn401(t *testing.T) {
	f := &fakePlatform{rejectOnce: true}
	client := newTestClient(t, f)

	// The first authenticated request is rejected; the client must refresh
	// the session token and retry exactly once.
	err := client.SendRPC(context.Background(), "ctrl-001", "setDeviceState", nil)
	if err != nil {
		t.Fatalf("SendRPC() error = %v", err)
	}
	if f.loginCount != 2 {
		t.Errorf("loginCount = %d, want 2 (refresh after rejection)", f.loginCount)
	}
}

func TestClient_LoginRejected(t *testing.T) {
	f := &fakePlatform{}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	client := NewClient(config.Platform{
		BaseURL:    srv.URL,
		Username:   "wrong@example.com",
		Password:   "secret",
		RPCTimeout: 2000,
	}, logging.Default())

	err := client.SendRPC(context.Background(), "ctrl-001", "setDeviceState", nil)
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("SendRPC() error = %v, want ErrAuthFailed", err)
	}
}

func TestClient_LatestTelemetry(t *testing.T) {
	f := &fakePlatform{}
	client := newTestClient(t, f)
	ctx := context.Background()

	values, err := client.LatestTelemetry(ctx, "ctrl-001", []string{"state1", "speed"})
	if err != nil {
		t.Fatalf("LatestTelemetry() error = %v", err)
	}

	if values["state1"] != "true" {
		t.Errorf("state1 = %q, want %q", values["state1"], "true")
	}
	if values["speed"] != "3" {
		t.Errorf("speed = %q, want %q", values["speed"], "3")
	}
}

func TestClient_LatestTelemetry_NotFound(t *testing.T) {
	f := &fakePlatform{}
	client := newTestClient(t, f)

	_, err := client.LatestTelemetry(context.Background(), "missing", []string{"state1"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestTelemetry() error = %v, want ErrNotFound", err)
	}
}

func TestClient_Attributes(t *testing.T) {
	f := &fakePlatform{}
	client := newTestClient(t, f)

	attrs, err := client.Attributes(context.Background(), "ctrl-001", ScopeClient)
	if err != nil {
		t.Fatalf("Attributes() error = %v", err)
	}

	if attrs["state1"] != true {
		t.Errorf("state1 = %v, want true", attrs["state1"])
	}
	if attrs["state2"] != false {
		t.Errorf("state2 = %v, want false", attrs["state2"])
	}
}

func TestClient_Unavailable(t *testing.T) {
	f := &fakePlatform{}
	client := newTestClient(t, f)

	// Point the client at a closed port.
	client.baseURL = "http://127.0.0.1:1"

	err := client.SendRPC(context.Background(), "ctrl-001", "setDeviceState", nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("SendRPC() error = %v, want ErrUnavailable", err)
	}
}

func TestTokenCache_SingleFlight(t *testing.T) {
	var fetches atomic.Int32

	cache := NewTokenCache(func(_ context.Context) (string, time.Time, error) {
		fetches.Add(1)
		time.Sleep(50 * time.Millisecond) // hold the flight open
		return "tok", time.Now().Add(time.Hour), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := cache.Token(context.Background())
			if err != nil {
				t.Errorf("Token() error = %v", err)
			}
			if token != "tok" {
				t.Errorf("Token() = %q, want %q", token, "tok")
			}
		}()
	}
	wg.Wait()

	if n := fetches.Load(); n != 1 {
		t.Errorf("fetch count = %d, want 1 (concurrent refreshes must collapse)", n)
	}
}

func TestTokenCache_RefreshAfterExpiry(t *testing.T) {
	var fetches atomic.Int32

	cache := NewTokenCache(func(_ context.Context) (string, time.Time, error) {
		n := fetches.Add(1)
		if n == 1 {
			// Already inside the refresh skew: expired on arrival.
			return "stale", time.Now(), nil
		}
		return "fresh", time.Now().Add(time.Hour), nil
	})

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	token, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "fresh" {
		t.Errorf("Token() = %q, want refreshed token", token)
	}
	if fetches.Load() != 2 {
		t.Errorf("fetch count = %d, want 2", fetches.Load())
	}
}

func TestClient_Unauthorized_NoInfiniteRetry(t *testing.T) {
	// A platform that always 401s authenticated requests must produce an
	// error after one retry, not loop.
	f := &fakePlatform{token: "never-matches"}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	client := NewClient(config.Platform{
		BaseURL:    srv.URL,
		Username:   "tenant@example.com",
		Password:   "secret",
		RPCTimeout: 2000,
	}, logging.Default())
	client.tokens = NewTokenCache(func(_ context.Context) (string, time.Time, error) {
		return "wrong-token", time.Now().Add(time.Hour), nil
	})

	err := client.SendRPC(context.Background(), "ctrl-001", "setDeviceState", nil)
	if err == nil {
		t.Fatal("SendRPC() should fail when every request is rejected")
	}
}
