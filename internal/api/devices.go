package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/casalink/casalink/internal/audit"
	"github.com/casalink/casalink/internal/device"
)

type createDeviceRequest struct {
	Name         string              `json:"name"`
	Label        string              `json:"label"`
	Capabilities []device.Capability `json:"capabilities"`
	ControllerID string              `json:"controller_id"`
	SubDeviceID  int                 `json:"sub_device_id"`
}

// updateDeviceRequest carries a partial update; nil fields are left unchanged.
type updateDeviceRequest struct {
	Name         *string              `json:"name"`
	Label        *string              `json:"label"`
	Capabilities *[]device.Capability `json:"capabilities"`
	ControllerID *string              `json:"controller_id"`
	SubDeviceID  *int                 `json:"sub_device_id"`
}

// handleListDevices returns the authenticated user's devices in
// provisioning order.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.ListByOwner(r.Context(), currentUserID(r))
	if err != nil {
		s.logger.Error("listing devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleCreateDevice provisions a new device for the authenticated user.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	d := &device.Device{
		UserID:       currentUserID(r),
		Name:         req.Name,
		Label:        req.Label,
		Capabilities: req.Capabilities,
		ControllerID: req.ControllerID,
		SubDeviceID:  req.SubDeviceID,
	}
	if err := device.Validate(d); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.devices.Create(r.Context(), d); err != nil {
		if errors.Is(err, device.ErrExists) {
			writeConflict(w, "device already exists")
			return
		}
		s.logger.Error("creating device", "error", err)
		writeInternalError(w, "failed to create device")
		return
	}

	s.recordAudit(r.Context(), audit.Entry{
		Action:     audit.ActionDeviceAdded,
		EntityType: audit.EntityDevice,
		EntityID:   d.ID,
		UserID:     d.UserID,
		Source:     audit.SourceDashboard,
		Details:    map[string]any{"name": d.Name, "controller_id": d.ControllerID},
	})

	writeJSON(w, http.StatusCreated, d)
}

// handleGetDevice returns one of the authenticated user's devices.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleUpdateDevice applies a partial update to a device's metadata.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}

	var req updateDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Name != nil {
		d.Name = *req.Name
	}
	if req.Label != nil {
		d.Label = *req.Label
	}
	if req.Capabilities != nil {
		d.Capabilities = *req.Capabilities
	}
	if req.ControllerID != nil {
		d.ControllerID = *req.ControllerID
	}
	if req.SubDeviceID != nil {
		d.SubDeviceID = *req.SubDeviceID
	}

	if err := device.Validate(d); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.devices.Update(r.Context(), d); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("updating device", "error", err)
		writeInternalError(w, "failed to update device")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDevice soft-deletes a device. The row is retained; the device
// simply stops appearing in listings and SYNC responses.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}

	if err := s.devices.SoftDelete(r.Context(), d.ID); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		s.logger.Error("deleting device", "error", err)
		writeInternalError(w, "failed to delete device")
		return
	}

	s.recordAudit(r.Context(), audit.Entry{
		Action:     audit.ActionDeviceRemoved,
		EntityType: audit.EntityDevice,
		EntityID:   d.ID,
		UserID:     d.UserID,
		Source:     audit.SourceDashboard,
	})

	writeJSON(w, http.StatusNoContent, nil)
}

// ownedDevice loads the device in the URL and verifies the authenticated
// user owns it. Foreign devices are reported as not found, never forbidden:
// the response must not reveal that the ID exists.
func (s *Server) ownedDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	id := chi.URLParam(r, "id")

	d, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		s.logger.Error("loading device", "error", err, "device_id", id)
		writeInternalError(w, "failed to load device")
		return nil, false
	}
	if d.UserID != currentUserID(r) {
		writeNotFound(w, "device not found")
		return nil, false
	}
	return d, true
}
