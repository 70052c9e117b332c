package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/casalink/casalink/internal/device"
	"github.com/casalink/casalink/internal/infrastructure/logging"
)

// fakeDeviceRepo implements device.Repository in memory for ingest tests.
type fakeDeviceRepo struct {
	devices []*device.Device

	liveness map[string]bool
	merged   map[string]device.State
}

func newFakeDeviceRepo(devices ...*device.Device) *fakeDeviceRepo {
	return &fakeDeviceRepo{
		devices:  devices,
		liveness: make(map[string]bool),
		merged:   make(map[string]device.State),
	}
}

func (r *fakeDeviceRepo) GetByID(_ context.Context, id string) (*device.Device, error) {
	for _, d := range r.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, device.ErrNotFound
}

func (r *fakeDeviceRepo) ListByOwner(_ context.Context, userID string) ([]device.Device, error) {
	var out []device.Device
	for _, d := range r.devices {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeDeviceRepo) ListByController(_ context.Context, controllerID string) ([]device.Device, error) {
	var out []device.Device
	for _, d := range r.devices {
		if d.ControllerID == controllerID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeDeviceRepo) Create(_ context.Context, _ *device.Device) error { return nil }
func (r *fakeDeviceRepo) Update(_ context.Context, _ *device.Device) error { return nil }

func (r *fakeDeviceRepo) SetLiveness(_ context.Context, id string, online bool, _ time.Time) error {
	r.liveness[id] = online
	return nil
}

func (r *fakeDeviceRepo) MergeState(_ context.Context, id string, state device.State) error {
	merged, ok := r.merged[id]
	if !ok {
		merged = device.State{}
		r.merged[id] = merged
	}
	for k, v := range state {
		merged[k] = v
	}
	return nil
}

func (r *fakeDeviceRepo) SoftDelete(_ context.Context, _ string) error { return nil }

// fakeRecorder captures history writes.
type fakeRecorder struct {
	telemetry map[string]float64
	statuses  []bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{telemetry: make(map[string]float64)}
}

func (r *fakeRecorder) WriteTelemetry(_ string, key string, value float64) {
	r.telemetry[key] = value
}

func (r *fakeRecorder) WriteOnlineStatus(_ string, online bool) {
	r.statuses = append(r.statuses, online)
}

func controllerDevice(id string, subID int, caps ...device.Capability) *device.Device {
	return &device.Device{
		ID:           id,
		UserID:       "user-1",
		Name:         "Device " + id,
		Capabilities: caps,
		ControllerID: "ctrl-001",
		SubDeviceID:  subID,
	}
}

func TestIngest_Telemetry(t *testing.T) {
	light := controllerDevice("dev-light", 1, device.CapLight)
	fan := controllerDevice("dev-fan", 2, device.CapFan, device.CapSpeed)
	repo := newFakeDeviceRepo(light, fan)
	recorder := newFakeRecorder()

	ingest := NewIngest(repo, recorder, logging.Default())

	err := ingest.HandleMessage("devices/ctrl-001/telemetry",
		[]byte(`{"state1": true, "state2": false, "speed": 3}`))
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}

	// Any telemetry marks the controller's devices reachable.
	if !repo.liveness["dev-light"] || !repo.liveness["dev-fan"] {
		t.Errorf("liveness = %v, want both devices online", repo.liveness)
	}

	// Each device picks up its own state key.
	if repo.merged["dev-light"]["on"] != true {
		t.Errorf("dev-light state = %v, want on=true from state1", repo.merged["dev-light"])
	}
	if repo.merged["dev-fan"]["on"] != false {
		t.Errorf("dev-fan state = %v, want on=false from state2", repo.merged["dev-fan"])
	}

	// Only the fan takes the speed value.
	if repo.merged["dev-fan"]["speed"] != 3 {
		t.Errorf("dev-fan speed = %v, want 3", repo.merged["dev-fan"]["speed"])
	}
	if _, ok := repo.merged["dev-light"]["speed"]; ok {
		t.Error("a light must not cache a fan speed")
	}

	// Numeric history: booleans record as 0/1.
	if recorder.telemetry["speed"] != 3 {
		t.Errorf("recorded speed = %v, want 3", recorder.telemetry["speed"])
	}
	if recorder.telemetry["state1"] != 1 || recorder.telemetry["state2"] != 0 {
		t.Errorf("recorded states = %v, want state1=1 state2=0", recorder.telemetry)
	}
}

func TestIngest_Status(t *testing.T) {
	repo := newFakeDeviceRepo(controllerDevice("dev-1", 1, device.CapOutlet))
	recorder := newFakeRecorder()
	ingest := NewIngest(repo, recorder, logging.Default())

	tests := []struct {
		name       string
		payload    string
		wantOnline bool
	}{
		{"json online", `{"status":"online","client_id":"ctrl-001"}`, true},
		{"json offline", `{"status":"offline"}`, false},
		{"bare online", "online", true},
		{"bare offline", "offline", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ingest.HandleMessage("devices/ctrl-001/status", []byte(tt.payload))
			if err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}
			if repo.liveness["dev-1"] != tt.wantOnline {
				t.Errorf("liveness = %v, want %v", repo.liveness["dev-1"], tt.wantOnline)
			}
		})
	}

	if len(recorder.statuses) != 4 {
		t.Errorf("recorded %d status transitions, want 4", len(recorder.statuses))
	}
}

func TestIngest_MalformedInput(t *testing.T) {
	repo := newFakeDeviceRepo()
	ingest := NewIngest(repo, nil, logging.Default())

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"foreign topic", "casalink/bridge/status", "online"},
		{"bad channel", "devices/ctrl-001/firmware", "{}"},
		{"telemetry not json", "devices/ctrl-001/telemetry", "not-json"},
		{"unknown status", "devices/ctrl-001/status", "rebooting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ingest.HandleMessage(tt.topic, []byte(tt.payload)); err == nil {
				t.Error("HandleMessage() should reject malformed input")
			}
		})
	}
}

func TestIngest_NilRecorder(t *testing.T) {
	repo := newFakeDeviceRepo(controllerDevice("dev-1", 1, device.CapLight))
	ingest := NewIngest(repo, nil, logging.Default())

	// History recording disabled: ingest still maintains the registry.
	err := ingest.HandleMessage("devices/ctrl-001/telemetry", []byte(`{"state1": true}`))
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !repo.liveness["dev-1"] {
		t.Error("liveness should be updated without a recorder")
	}
}
