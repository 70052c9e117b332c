package smarthome

import (
	"fmt"

	"github.com/casalink/casalink/internal/device"
)

// RPCInstruction is the output of translating one assistant command: the
// platform RPC to issue and the state fragment to echo back as the
// command's reported result. Never persisted.
type RPCInstruction struct {
	Method string
	Params map[string]any
	Echo   map[string]any
}

// WarnFunc receives translator warnings, in slog key-value form. The
// translator itself stays a pure function; observability is injected.
type WarnFunc func(msg string, args ...any)

// speedLevels maps the fixed fan-speed label vocabulary to RPC speed values.
var speedLevels = map[string]int{
	"speed_0": 0,
	"speed_1": 1,
	"speed_2": 2,
	"speed_3": 3,
	"speed_4": 4,
	"speed_5": 5,
}

// FanSpeedLabel returns the label for a numeric speed value.
func FanSpeedLabel(speed int) string {
	return fmt.Sprintf("speed_%d", speed)
}

// DescriptorFor maps a device's capability set onto an assistant descriptor.
//
// Priority order, first match wins: light/dimmer → LIGHT, fan/speed → FAN,
// outlet → OUTLET. A device with no recognized capability degrades to a
// generic on/off OUTLET; translation never fails.
func DescriptorFor(d *device.Device) Descriptor {
	var deviceType string
	var traits []string

	switch {
	case d.HasAnyCapability(device.CapLight, device.CapDimmer):
		deviceType = TypeLight
		traits = []string{TraitOnOff}
		if d.HasCapability(device.CapDimmer) {
			traits = append(traits, TraitBrightness)
		}
	case d.HasAnyCapability(device.CapFan, device.CapSpeed):
		deviceType = TypeFan
		traits = []string{TraitOnOff, TraitFanSpeed}
	default:
		deviceType = TypeOutlet
		traits = []string{TraitOnOff}
	}

	name := DeviceName{
		DefaultNames: []string{d.Name},
		Name:         d.DisplayName(),
	}
	if d.Label != "" && d.Label != d.Name {
		name.Nicknames = []string{d.Label}
	}

	return Descriptor{
		ID:              d.ID,
		Type:            deviceType,
		Traits:          traits,
		Name:            name,
		WillReportState: true,
		DeviceInfo: DeviceInfo{
			Manufacturer: "CasaLink",
			Model:        "bridge-controller",
			HwVersion:    "1.0",
			SwVersion:    "1.0",
		},
	}
}

// TranslateCommand maps an assistant command onto a platform RPC.
//
// The second return value is false when the command is unrecognized or the
// device lacks the gating capability; both cases are indistinguishable to
// callers, and the dispatcher turns them into a protocol error code.
func TranslateCommand(command string, params map[string]any, d *device.Device, warn WarnFunc) (RPCInstruction, bool) {
	switch command {
	case CommandOnOff:
		on, _ := params["on"].(bool)
		return RPCInstruction{
			Method: "setDeviceState",
			Params: map[string]any{
				"targetSubDeviceId": d.SubDeviceID,
				"state":             on,
			},
			Echo: map[string]any{"on": on},
		}, true

	case CommandSetFanSpeed:
		if !d.HasAnyCapability(device.CapFan, device.CapSpeed) {
			return RPCInstruction{}, false
		}

		label, _ := params["fanSpeed"].(string)
		speed, known := speedLevels[label]
		if !known {
			// Historical behavior: an unrecognized label falls back to
			// speed 0 rather than rejecting the command.
			if warn != nil {
				warn("unrecognized fan speed label, defaulting to 0",
					"label", label, "device_id", d.ID)
			}
			speed = 0
		}

		return RPCInstruction{
			Method: "setFanSpeed",
			Params: map[string]any{"speed": speed},
			Echo:   map[string]any{"currentFanSpeedSetting": label},
		}, true

	case CommandBrightness:
		if !d.HasCapability(device.CapDimmer) {
			return RPCInstruction{}, false
		}

		brightness := intParam(params, "brightness")
		return RPCInstruction{
			Method: "setBrightness",
			Params: map[string]any{"brightness": brightness},
			Echo:   map[string]any{"brightness": brightness},
		}, true

	default:
		return RPCInstruction{}, false
	}
}

// intParam reads a numeric parameter that arrives as a JSON number.
func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
