package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/casalink/casalink/internal/device"
	"github.com/casalink/casalink/internal/infrastructure/logging"
	"github.com/casalink/casalink/internal/infrastructure/mqtt"
)

// handleTimeout bounds the registry work done for one broker message.
const handleTimeout = 10 * time.Second

// Recorder receives telemetry history writes. Implemented by the InfluxDB
// client; writes are fire-and-forget.
type Recorder interface {
	WriteTelemetry(controllerID, key string, value float64)
	WriteOnlineStatus(controllerID string, online bool)
}

// Subscriber is the broker surface the ingest needs. Implemented by the
// infrastructure MQTT client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Ingest consumes controller telemetry and liveness messages and applies
// them to the device registry.
type Ingest struct {
	devices  device.Repository
	recorder Recorder // nil when history recording is disabled
	logger   *logging.Logger
}

// NewIngest creates a telemetry ingest. The recorder may be nil.
func NewIngest(devices device.Repository, recorder Recorder, logger *logging.Logger) *Ingest {
	return &Ingest{
		devices:  devices,
		recorder: recorder,
		logger:   logger,
	}
}

// Start subscribes to every controller's telemetry and status topics.
func (i *Ingest) Start(client Subscriber, qos byte) error {
	topics := mqtt.Topics{}

	if err := client.Subscribe(topics.AllTelemetry(), qos, i.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to telemetry: %w", err)
	}
	if err := client.Subscribe(topics.AllStatus(), qos, i.HandleMessage); err != nil {
		return fmt.Errorf("subscribing to status: %w", err)
	}

	i.logger.Info("telemetry ingest started",
		"topics", []string{topics.AllTelemetry(), topics.AllStatus()})
	return nil
}

// HandleMessage routes one broker message by its topic. Returned errors are
// logged by the MQTT client wrapper; they never affect acknowledgment.
func (i *Ingest) HandleMessage(topic string, payload []byte) error {
	controllerID, channel, ok := mqtt.ParseControllerTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	switch channel {
	case "telemetry":
		return i.handleTelemetry(ctx, controllerID, payload)
	case "status":
		return i.handleStatus(ctx, controllerID, payload)
	default:
		return fmt.Errorf("unexpected channel %q on topic %q", channel, topic)
	}
}

// handleTelemetry applies one telemetry report to every registry device on
// the reporting controller.
func (i *Ingest) handleTelemetry(ctx context.Context, controllerID string, payload []byte) error {
	var values map[string]any
	if err := json.Unmarshal(payload, &values); err != nil {
		return fmt.Errorf("decoding telemetry payload: %w", err)
	}

	devices, err := i.devices.ListByController(ctx, controllerID)
	if err != nil {
		return fmt.Errorf("listing controller devices: %w", err)
	}

	now := time.Now().UTC()
	for idx := range devices {
		d := &devices[idx]

		// A telemetry report proves the controller is reachable.
		if err := i.devices.SetLiveness(ctx, d.ID, true, now); err != nil {
			i.logger.Warn("updating device liveness", "error", err, "device_id", d.ID)
		}

		fragment := stateFragment(d, values)
		if len(fragment) == 0 {
			continue
		}
		if err := i.devices.MergeState(ctx, d.ID, fragment); err != nil {
			i.logger.Warn("merging device state", "error", err, "device_id", d.ID)
		}
	}

	i.record(controllerID, values)
	return nil
}

// handleStatus applies a controller liveness transition.
func (i *Ingest) handleStatus(ctx context.Context, controllerID string, payload []byte) error {
	online, err := parseStatus(payload)
	if err != nil {
		return err
	}

	devices, err := i.devices.ListByController(ctx, controllerID)
	if err != nil {
		return fmt.Errorf("listing controller devices: %w", err)
	}

	now := time.Now().UTC()
	for idx := range devices {
		if err := i.devices.SetLiveness(ctx, devices[idx].ID, online, now); err != nil {
			i.logger.Warn("updating device liveness", "error", err, "device_id", devices[idx].ID)
		}
	}

	if i.recorder != nil {
		i.recorder.WriteOnlineStatus(controllerID, online)
	}
	return nil
}

// stateFragment derives the state keys relevant to one device from a
// controller-wide telemetry report. Per-sub-device switch states arrive as
// state{N} keys; the speed value applies to fan endpoints only.
func stateFragment(d *device.Device, values map[string]any) device.State {
	fragment := device.State{}

	stateKey := fmt.Sprintf("state%d", d.SubDeviceID)
	if raw, ok := values[stateKey]; ok {
		if on, ok := toBool(raw); ok {
			fragment["on"] = on
		}
	}

	if d.HasAnyCapability(device.CapFan, device.CapSpeed) {
		if raw, ok := values["speed"]; ok {
			if speed, ok := toFloat(raw); ok {
				fragment["speed"] = int(speed)
			}
		}
	}

	return fragment
}

// record writes numeric telemetry values to the history recorder.
func (i *Ingest) record(controllerID string, values map[string]any) {
	if i.recorder == nil {
		return
	}
	for key, raw := range values {
		if v, ok := toFloat(raw); ok {
			i.recorder.WriteTelemetry(controllerID, key, v)
		}
	}
}

// parseStatus accepts both the platform's JSON status payload and a bare
// online/offline string.
func parseStatus(payload []byte) (bool, error) {
	var report struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(payload, &report); err == nil && report.Status != "" {
		return report.Status == "online", nil
	}

	switch string(payload) {
	case "online":
		return true, nil
	case "offline":
		return false, nil
	}
	return false, fmt.Errorf("unrecognized status payload %q", payload)
}

// toBool coerces a JSON value into a boolean.
func toBool(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		return v == "true", true
	case float64:
		return v != 0, true
	default:
		return false, false
	}
}

// toFloat coerces a JSON value into a float64. Booleans record as 0/1 so
// switch states can be graphed alongside numeric series.
func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
