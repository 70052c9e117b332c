package smarthome

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/casalink/casalink/internal/device"
	"github.com/casalink/casalink/internal/infrastructure/logging"
	"github.com/casalink/casalink/internal/link"
	"github.com/casalink/casalink/internal/platform"
)

// Registry is the persistence surface the dispatcher depends on. Lookups
// return the package sentinels (device.ErrNotFound, link.ErrNotFound) for
// absent records.
type Registry interface {
	FindDeviceByID(ctx context.Context, id string) (*device.Device, error)
	FindDevicesByOwner(ctx context.Context, userID string) ([]device.Device, error)
	FindLinkBySubject(ctx context.Context, subject string) (*link.AccountLink, error)
	MarkLinkSynced(ctx context.Context, linkID string, at time.Time) error
	DeactivateLink(ctx context.Context, subject string) error
}

// Dispatcher terminates one protocol envelope into one protocol response.
//
// It holds no per-request state and no locks; every handler reads a registry
// snapshot, talks to the gateway, and assembles a response. Per-item failures
// never abort a batch.
type Dispatcher struct {
	registry Registry
	gateway  platform.Gateway
	logger   *logging.Logger
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(registry Registry, gateway platform.Gateway, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		gateway:  gateway,
		logger:   logger,
	}
}

// Handle dispatches a validated envelope. The subject is the identity
// embedded in the caller's bearer credential; handlers resolve it to an
// active account link themselves, since DISCONNECT must succeed without one.
//
// No fault escapes: a panicking collaborator is captured at the envelope
// boundary and converted to a generic hardError response.
func (d *Dispatcher) Handle(ctx context.Context, subject string, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("intent handler fault",
				"request_id", req.RequestID, "panic", r)
			resp = errorResponse(req.RequestID, CodeHardError)
		}
	}()

	input := req.Inputs[0]

	switch input.Intent {
	case IntentSync:
		return d.handleSync(ctx, subject, req.RequestID)
	case IntentQuery:
		var payload QueryPayload
		if err := json.Unmarshal(input.Payload, &payload); err != nil {
			return errorResponse(req.RequestID, CodeHardError)
		}
		return d.handleQuery(ctx, subject, req.RequestID, payload)
	case IntentExecute:
		var payload ExecutePayload
		if err := json.Unmarshal(input.Payload, &payload); err != nil {
			return errorResponse(req.RequestID, CodeHardError)
		}
		return d.handleExecute(ctx, subject, req.RequestID, payload)
	case IntentDisconnect:
		return d.handleDisconnect(ctx, subject, req.RequestID)
	default:
		return errorResponse(req.RequestID, CodeNotSupported)
	}
}

// handleSync reports the caller's device inventory in provisioning order.
func (d *Dispatcher) handleSync(ctx context.Context, subject, requestID string) *Response {
	l, err := d.registry.FindLinkBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, link.ErrNotFound) {
			return errorResponse(requestID, CodeAuthFailure)
		}
		d.logger.Error("resolving account link", "error", err)
		return errorResponse(requestID, CodeHardError)
	}

	devices, err := d.registry.FindDevicesByOwner(ctx, l.UserID)
	if err != nil {
		d.logger.Error("loading owner devices", "error", err)
		return errorResponse(requestID, CodeHardError)
	}

	descriptors := make([]Descriptor, 0, len(devices))
	for i := range devices {
		descriptors = append(descriptors, DescriptorFor(&devices[i]))
	}

	// Advisory metadata, last-writer-wins. A failed write is not worth
	// failing the sync over.
	if err := d.registry.MarkLinkSynced(ctx, l.ID, time.Now().UTC()); err != nil {
		d.logger.Warn("marking link synced", "error", err, "link_id", l.ID)
	}

	return &Response{
		RequestID: requestID,
		Payload: SyncPayload{
			AgentUserID: subject,
			Devices:     descriptors,
		},
	}
}

// handleQuery reads fresh state for each requested device independently.
func (d *Dispatcher) handleQuery(ctx context.Context, subject, requestID string, payload QueryPayload) *Response {
	l, err := d.registry.FindLinkBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, link.ErrNotFound) {
			return errorResponse(requestID, CodeAuthFailure)
		}
		d.logger.Error("resolving account link", "error", err)
		return errorResponse(requestID, CodeHardError)
	}

	results := make(map[string]map[string]any, len(payload.Devices))
	for _, ref := range payload.Devices {
		results[ref.ID] = d.queryDevice(ctx, l.UserID, ref.ID)
	}

	return &Response{
		RequestID: requestID,
		Payload:   QueryResponsePayload{Devices: results},
	}
}

// queryDevice produces the per-device QUERY entry: success-with-state, or
// an error entry that leaves the rest of the batch untouched.
func (d *Dispatcher) queryDevice(ctx context.Context, userID, deviceID string) map[string]any {
	dev, err := d.registry.FindDeviceByID(ctx, deviceID)
	if err != nil || dev.UserID != userID {
		// Absent and not-owned are deliberately indistinguishable.
		return queryError(CodeDeviceNotFound)
	}

	attrs, err := d.gateway.Attributes(ctx, dev.ControllerID, platform.ScopeClient)
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		d.logger.Warn("reading controller attributes", "error", err, "device_id", deviceID)
		return queryError(CodeHardError)
	}

	telemetry, err := d.gateway.LatestTelemetry(ctx, dev.ControllerID, []string{"speed"})
	if err != nil && !errors.Is(err, platform.ErrNotFound) {
		d.logger.Warn("reading controller telemetry", "error", err, "device_id", deviceID)
		return queryError(CodeHardError)
	}

	// Client-scope keys starting with "state" are per-sub-device switch
	// states; the reported on flag is their logical OR.
	on := false
	for key, value := range attrs {
		if !strings.HasPrefix(key, "state") {
			continue
		}
		switch v := value.(type) {
		case bool:
			on = on || v
		case string:
			on = on || v == "true"
		}
	}

	entry := map[string]any{
		"status": StatusSuccess,
		"online": dev.Online,
		"on":     on,
	}

	if dev.HasAnyCapability(device.CapFan, device.CapSpeed) {
		if raw, ok := telemetry["speed"]; ok {
			entry["currentFanSpeedSetting"] = "speed_" + raw
		}
	}

	return entry
}

// handleExecute carries out every (device, command) pair independently.
// Results are appended in input order; partial failure is normal.
func (d *Dispatcher) handleExecute(ctx context.Context, subject, requestID string, payload ExecutePayload) *Response {
	l, err := d.registry.FindLinkBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, link.ErrNotFound) {
			return errorResponse(requestID, CodeAuthFailure)
		}
		d.logger.Error("resolving account link", "error", err)
		return errorResponse(requestID, CodeHardError)
	}

	var results []ExecuteResult
	for _, group := range payload.Commands {
		for _, ref := range group.Devices {
			for _, exec := range group.Execution {
				results = append(results, d.executeCommand(ctx, l.UserID, ref.ID, exec))
			}
		}
	}

	return &Response{
		RequestID: requestID,
		Payload:   ExecuteResponsePayload{Commands: results},
	}
}

// executeCommand runs one command against one device.
func (d *Dispatcher) executeCommand(ctx context.Context, userID, deviceID string, exec Execution) ExecuteResult {
	dev, err := d.registry.FindDeviceByID(ctx, deviceID)
	if err != nil || dev.UserID != userID {
		return executeError(deviceID, CodeDeviceNotFound)
	}

	instruction, ok := TranslateCommand(exec.Command, exec.Params, dev, d.logger.Warn)
	if !ok {
		return executeError(deviceID, CodeFunctionNotSupported)
	}

	if err := d.gateway.SendRPC(ctx, dev.ControllerID, instruction.Method, instruction.Params); err != nil {
		d.logger.Warn("issuing controller rpc",
			"error", err, "device_id", deviceID, "method", instruction.Method)
		return executeError(deviceID, CodeHardError)
	}

	states := map[string]any{"online": true}
	for k, v := range instruction.Echo {
		states[k] = v
	}

	return ExecuteResult{
		IDs:    []string{deviceID},
		Status: StatusSuccess,
		States: states,
	}
}

// handleDisconnect deactivates the caller's link. The response is the same
// empty payload whether or not a link existed: disconnect is idempotent and
// must not leak linking state.
func (d *Dispatcher) handleDisconnect(ctx context.Context, subject, requestID string) *Response {
	if err := d.registry.DeactivateLink(ctx, subject); err != nil {
		d.logger.Warn("deactivating account link", "error", err)
	}

	return &Response{
		RequestID: requestID,
		Payload:   struct{}{},
	}
}

// errorResponse builds a whole-intent error envelope.
func errorResponse(requestID string, code ErrorCode) *Response {
	return &Response{
		RequestID: requestID,
		Payload:   ErrorPayload{ErrorCode: code},
	}
}

// queryError builds a per-device QUERY error entry.
func queryError(code ErrorCode) map[string]any {
	return map[string]any{
		"status":    StatusError,
		"errorCode": string(code),
	}
}

// executeError builds a per-device EXECUTE error entry.
func executeError(deviceID string, code ErrorCode) ExecuteResult {
	return ExecuteResult{
		IDs:       []string{deviceID},
		Status:    StatusError,
		ErrorCode: code,
	}
}
