package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/ota-core/internal/device"
)

// handleListDevices returns all registered devices.
//
// GET /api/v1/devices
// Response: {"devices": [...], "count": N}
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device.
//
// GET /api/v1/devices/{id}
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	d, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device does not exist")
			return
		}
		s.logger.Error("failed to get device", "error", err, "id", id)
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleCreateDevice registers a new, unassigned device.
//
// POST /api/v1/devices
// Body: {"mac_address": "02:00:00:00:00:01", "name": "lobby display"}
// Response: 201 Created with the device
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	d := &device.Device{MACAddress: req.MACAddress, Name: req.Name}
	if err := s.devices.Create(r.Context(), d); err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceExists):
			writeConflict(w, "a device with this MAC address already exists")
		case isValidationError(err):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			s.logger.Error("failed to create device", "error", err)
			writeInternalError(w, "failed to create device")
		}
		return
	}

	writeJSON(w, http.StatusCreated, d)
}

// handleDeleteDevice removes a device that is not assigned to a group.
//
// DELETE /api/v1/devices/{id}
// Response: 200 {}, 404 if missing, 409 while assigned
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.devices.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, device.ErrDeviceNotFound):
			writeNotFound(w, "device does not exist")
		case errors.Is(err, device.ErrDeviceAssigned):
			writeConflict(w, "device is assigned to a group")
		default:
			s.logger.Error("failed to delete device", "error", err, "id", id)
			writeInternalError(w, "failed to delete device")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

// isValidationError checks if an error is a device validation error.
func isValidationError(err error) bool {
	return errors.Is(err, device.ErrInvalidDevice) ||
		errors.Is(err, device.ErrInvalidName) ||
		errors.Is(err, device.ErrInvalidMAC)
}
