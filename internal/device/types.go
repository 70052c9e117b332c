package device

import "time"

// Device represents one controllable endpoint on a physical controller unit.
// This matches the database schema in migrations/20260301_100000_initial_schema.up.sql.
type Device struct {
	// Identity
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Display metadata
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`

	// Capabilities declared at provisioning time. Never empty: a device
	// with no capabilities cannot be translated for the assistant.
	Capabilities []Capability `json:"capabilities"`

	// Platform addressing: the controller unit's identifier on the
	// device-management platform and the sub-device index on it.
	ControllerID string `json:"controller_id"`
	SubDeviceID  int    `json:"sub_device_id"`

	// Liveness, maintained by the telemetry ingest.
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// State holds the last-known state fragment reported by the platform.
	// Advisory only; QUERY always reads fresh values through the Gateway.
	State State `json:"state"`

	// Lifecycle
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State holds a device state fragment as a JSON map.
//
// Examples:
//   - Switch: {"on": true}
//   - Dimmer: {"on": true, "brightness": 75}
//   - Fan: {"on": true, "speed": 3}
type State map[string]any

// Capability represents what a device endpoint can do.
//
// The vocabulary is open: unknown capability strings are stored and ignored
// by the translator, which degrades them to a generic on/off descriptor.
type Capability string

// Known capabilities.
const (
	CapLight  Capability = "light"
	CapDimmer Capability = "dimmer"
	CapFan    Capability = "fan"
	CapSpeed  Capability = "speed"
	CapOutlet Capability = "outlet"
)

// HasCapability reports whether the device declares the given capability.
func (d *Device) HasCapability(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// HasAnyCapability reports whether the device declares at least one of the
// given capabilities.
func (d *Device) HasAnyCapability(caps ...Capability) bool {
	for _, c := range caps {
		if d.HasCapability(c) {
			return true
		}
	}
	return false
}

// DisplayName returns the label if set, falling back to the name.
func (d *Device) DisplayName() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Name
}

// Status represents the device lifecycle state.
type Status string

// Status values. Devices are soft-deleted: StatusDeleted rows stay in the
// database for audit retention and are excluded from registry queries.
const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)
