package smarthome

import "encoding/json"

// Intent identifies one of the four assistant operations. The vocabulary is
// closed: anything else is answered with a notSupported error.
type Intent string

const (
	IntentSync       Intent = "action.devices.SYNC"
	IntentQuery      Intent = "action.devices.QUERY"
	IntentExecute    Intent = "action.devices.EXECUTE"
	IntentDisconnect Intent = "action.devices.DISCONNECT"
)

// Assistant command identifiers accepted by the translator.
const (
	CommandOnOff       = "action.devices.commands.OnOff"
	CommandSetFanSpeed = "action.devices.commands.SetFanSpeed"
	CommandBrightness  = "action.devices.commands.BrightnessAbsolute"
)

// Device type tags in assistant descriptors.
const (
	TypeLight  = "LIGHT"
	TypeFan    = "FAN"
	TypeOutlet = "OUTLET"
)

// Trait tags in assistant descriptors.
const (
	TraitOnOff      = "OnOff"
	TraitBrightness = "Brightness"
	TraitFanSpeed   = "FanSpeed"
)

// Per-item result status values.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// ErrorCode is a protocol-level error tag rendered by the assistant.
type ErrorCode string

const (
	CodeAuthFailure          ErrorCode = "authFailure"
	CodeDeviceNotFound       ErrorCode = "deviceNotFound"
	CodeFunctionNotSupported ErrorCode = "functionNotSupported"
	CodeHardError            ErrorCode = "hardError"
	CodeNotSupported         ErrorCode = "notSupported"
)

// Request is the envelope received from the assistant platform.
type Request struct {
	RequestID string  `json:"requestId"`
	Inputs    []Input `json:"inputs"`
}

// Valid reports whether the envelope is well-formed enough to dispatch.
// Malformed envelopes are rejected wholesale, before any handler runs.
func (r *Request) Valid() bool {
	return r.RequestID != "" && len(r.Inputs) > 0
}

// Input is one intent within a request envelope. The payload shape depends
// on the intent, so it stays raw until the dispatcher knows which one it is.
type Input struct {
	Intent  Intent          `json:"intent"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// QueryPayload is the request payload of a QUERY intent.
type QueryPayload struct {
	Devices []DeviceRef `json:"devices"`
}

// ExecutePayload is the request payload of an EXECUTE intent.
type ExecutePayload struct {
	Commands []CommandGroup `json:"commands"`
}

// DeviceRef addresses one device within a QUERY or EXECUTE payload.
type DeviceRef struct {
	ID string `json:"id"`
}

// CommandGroup pairs a set of target devices with a set of executions.
// Every (device, execution) combination is carried out independently.
type CommandGroup struct {
	Devices   []DeviceRef `json:"devices"`
	Execution []Execution `json:"execution"`
}

// Execution is one assistant command with its parameters.
type Execution struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// Response is the envelope returned to the assistant platform.
type Response struct {
	RequestID string `json:"requestId"`
	Payload   any    `json:"payload"`
}

// ErrorPayload carries nothing beyond an error tag. Used when an intent
// fails as a whole (e.g. the bearer credential resolves to no active link).
type ErrorPayload struct {
	ErrorCode ErrorCode `json:"errorCode"`
}

// SyncPayload is the response payload of a SYNC intent.
type SyncPayload struct {
	AgentUserID string       `json:"agentUserId"`
	Devices     []Descriptor `json:"devices"`
}

// Descriptor is one device as presented to the assistant.
type Descriptor struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Traits          []string   `json:"traits"`
	Name            DeviceName `json:"name"`
	WillReportState bool       `json:"willReportState"`
	DeviceInfo      DeviceInfo `json:"deviceInfo"`
}

// DeviceName holds the assistant display name fields.
type DeviceName struct {
	DefaultNames []string `json:"defaultNames,omitempty"`
	Name         string   `json:"name"`
	Nicknames    []string `json:"nicknames,omitempty"`
}

// DeviceInfo identifies the device hardware to the assistant.
type DeviceInfo struct {
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	HwVersion    string `json:"hwVersion,omitempty"`
	SwVersion    string `json:"swVersion,omitempty"`
}

// QueryResponsePayload is the response payload of a QUERY intent. Each
// device maps to a success-with-state or error-with-code entry.
type QueryResponsePayload struct {
	Devices map[string]map[string]any `json:"devices"`
}

// ExecuteResponsePayload is the response payload of an EXECUTE intent.
type ExecuteResponsePayload struct {
	Commands []ExecuteResult `json:"commands"`
}

// ExecuteResult is the outcome of one (device, command) pair.
type ExecuteResult struct {
	IDs       []string       `json:"ids"`
	Status    string         `json:"status"`
	States    map[string]any `json:"states,omitempty"`
	ErrorCode ErrorCode      `json:"errorCode,omitempty"`
}
