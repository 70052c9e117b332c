package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/casalink/casalink/internal/auth"
	"github.com/casalink/casalink/internal/device"
)

// linkedFixture creates a user, provisions devices, and completes account
// linking. Returns the assistant access token and its subject.
func linkedFixture(t *testing.T, ts *testServer) (token, subject string) {
	t.Helper()

	user := ts.createUser(t, "alice", "correct-horse-battery")

	seed := []struct {
		name string
		caps []device.Capability
		sub  int
	}{
		{"Kitchen Light", []device.Capability{device.CapLight, device.CapDimmer}, 1},
		{"Bedroom Fan", []device.Capability{device.CapFan, device.CapSpeed}, 2},
	}
	for _, s := range seed {
		d := &device.Device{
			UserID:       user.ID,
			Name:         s.name,
			Capabilities: s.caps,
			ControllerID: "ctrl-001",
			SubDeviceID:  s.sub,
		}
		if err := ts.devices.Create(context.Background(), d); err != nil {
			t.Fatalf("seeding device: %v", err)
		}
	}

	code := ts.obtainCode(t, "alice", "correct-horse-battery")
	pair := ts.exchangeCode(t, code)

	claims, err := auth.ParseToken(pair.AccessToken, testJWTSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	return pair.AccessToken, claims.Subject
}

func envelope(requestID, intent string, payload any) map[string]any {
	input := map[string]any{"intent": intent}
	if payload != nil {
		input["payload"] = payload
	}
	return map[string]any{
		"requestId": requestID,
		"inputs":    []any{input},
	}
}

func TestHandleFulfillment_Sync(t *testing.T) {
	ts := setupServer(t)
	token, subject := linkedFixture(t, ts)

	rec := ts.doJSON(t, http.MethodPost, "/smarthome/fulfillment", token,
		envelope("req-1", "action.devices.SYNC", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		RequestID string `json:"requestId"`
		Payload   struct {
			AgentUserID string `json:"agentUserId"`
			Devices     []struct {
				Type   string   `json:"type"`
				Traits []string `json:"traits"`
			} `json:"devices"`
		} `json:"payload"`
	}
	decodeBody(t, rec, &resp)

	if resp.RequestID != "req-1" {
		t.Errorf("requestId = %q, want req-1", resp.RequestID)
	}
	if resp.Payload.AgentUserID != subject {
		t.Errorf("agentUserId = %q, want %q", resp.Payload.AgentUserID, subject)
	}
	if len(resp.Payload.Devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(resp.Payload.Devices))
	}
	if resp.Payload.Devices[0].Type != "LIGHT" {
		t.Errorf("first device type = %q, want LIGHT", resp.Payload.Devices[0].Type)
	}
	if resp.Payload.Devices[1].Type != "FAN" {
		t.Errorf("second device type = %q, want FAN", resp.Payload.Devices[1].Type)
	}
}

func TestHandleFulfillment_Execute(t *testing.T) {
	ts := setupServer(t)
	token, _ := linkedFixture(t, ts)

	devices, err := ts.devices.ListByController(context.Background(), "ctrl-001")
	if err != nil {
		t.Fatalf("listing devices: %v", err)
	}

	rec := ts.doJSON(t, http.MethodPost, "/smarthome/fulfillment", token,
		envelope("req-2", "action.devices.EXECUTE", map[string]any{
			"commands": []any{map[string]any{
				"devices": []any{map[string]any{"id": devices[0].ID}},
				"execution": []any{map[string]any{
					"command": "action.devices.commands.OnOff",
					"params":  map[string]any{"on": true},
				}},
			}},
		}))
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Payload struct {
			Commands []struct {
				IDs    []string `json:"ids"`
				Status string   `json:"status"`
			} `json:"commands"`
		} `json:"payload"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Payload.Commands) != 1 || resp.Payload.Commands[0].Status != "SUCCESS" {
		t.Fatalf("unexpected execute payload: %s", rec.Body.String())
	}

	if len(ts.gateway.rpcs) != 1 {
		t.Fatalf("gateway rpcs = %d, want 1", len(ts.gateway.rpcs))
	}
	if ts.gateway.rpcs[0].method != "setDeviceState" {
		t.Errorf("rpc method = %q, want setDeviceState", ts.gateway.rpcs[0].method)
	}
}

func TestHandleFulfillment_MalformedEnvelope(t *testing.T) {
	ts := setupServer(t)
	token, _ := linkedFixture(t, ts)

	tests := []struct {
		name string
		body any
	}{
		{"missing requestId", map[string]any{"inputs": []any{map[string]any{"intent": "action.devices.SYNC"}}}},
		{"missing inputs", map[string]any{"requestId": "req-1"}},
		{"empty inputs", map[string]any{"requestId": "req-1", "inputs": []any{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.doJSON(t, http.MethodPost, "/smarthome/fulfillment", token, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleFulfillment_BadCredential(t *testing.T) {
	ts := setupServer(t)
	user := ts.createUser(t, "alice", "correct-horse-battery")

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
		{"user scope", userToken(t, user.ID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.doJSON(t, http.MethodPost, "/smarthome/fulfillment", tt.token,
				envelope("req-9", "action.devices.QUERY", map[string]any{"devices": []any{}}))
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}

			var resp struct {
				RequestID string `json:"requestId"`
				Payload   struct {
					ErrorCode string `json:"errorCode"`
				} `json:"payload"`
			}
			decodeBody(t, rec, &resp)
			if resp.RequestID != "req-9" {
				t.Errorf("requestId = %q, want req-9", resp.RequestID)
			}
			if resp.Payload.ErrorCode != "authFailure" {
				t.Errorf("errorCode = %q, want authFailure", resp.Payload.ErrorCode)
			}
		})
	}
}

func TestHandleFulfillment_Disconnect(t *testing.T) {
	ts := setupServer(t)
	token, subject := linkedFixture(t, ts)

	rec := ts.doJSON(t, http.MethodPost, "/smarthome/fulfillment", token,
		envelope("req-3", "action.devices.DISCONNECT", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		RequestID string          `json:"requestId"`
		Payload   json.RawMessage `json:"payload"`
	}
	decodeBody(t, rec, &resp)
	if string(resp.Payload) != "{}" {
		t.Errorf("payload = %s, want {}", resp.Payload)
	}

	if _, err := ts.links.GetBySubject(context.Background(), subject); err == nil {
		t.Error("link still active after disconnect")
	}

	// Repeat disconnects and disconnects with dead credentials behave
	// identically: an empty success payload, no hint of link state.
	for _, tok := range []string{token, "garbage"} {
		rec := ts.doJSON(t, http.MethodPost, "/smarthome/fulfillment", tok,
			envelope("req-4", "action.devices.DISCONNECT", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("repeat disconnect status = %d, want 200", rec.Code)
		}
		decodeBody(t, rec, &resp)
		if string(resp.Payload) != "{}" {
			t.Errorf("repeat disconnect payload = %s, want {}", resp.Payload)
		}
	}
}

func TestHandleFulfillment_Query(t *testing.T) {
	ts := setupServer(t)
	token, _ := linkedFixture(t, ts)

	ts.gateway.attrs = map[string]map[string]any{
		"ctrl-001": {"state1": true, "state2": false},
	}
	ts.gateway.telemetry = map[string]map[string]string{
		"ctrl-001": {"speed": "3"},
	}

	devices, err := ts.devices.ListByController(context.Background(), "ctrl-001")
	if err != nil {
		t.Fatalf("listing devices: %v", err)
	}
	refs := make([]any, 0, len(devices))
	for _, d := range devices {
		refs = append(refs, map[string]any{"id": d.ID})
	}

	rec := ts.doJSON(t, http.MethodPost, "/smarthome/fulfillment", token,
		envelope("req-5", "action.devices.QUERY", map[string]any{"devices": refs}))
	if rec.Code != http.StatusOK {
		t.Fatalf("query status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Payload struct {
			Devices map[string]map[string]any `json:"devices"`
		} `json:"payload"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Payload.Devices) != 2 {
		t.Fatalf("query devices = %d, want 2: %s", len(resp.Payload.Devices), rec.Body.String())
	}
	for id, state := range resp.Payload.Devices {
		if state["status"] != "SUCCESS" {
			t.Errorf("device %s status = %v, want SUCCESS", id, state["status"])
		}
	}
}
