package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/blesim-core/internal/device"
	"github.com/nerrad567/blesim-core/internal/infrastructure/mqtt"
)

// configureRequest selects the device type a board emulates.
type configureRequest struct {
	DeviceType device.DeviceType `json:"device_type"`
}

// disconnectRequest asks a board to drop its BLE link.
type disconnectRequest struct {
	DurationMS int  `json:"duration_ms"`
	Teardown   bool `json:"teardown"`
}

// requireBroker writes 503 and returns false while the bridge is offline.
func (s *Server) requireBroker(w http.ResponseWriter) bool {
	if !s.bridge.IsConnected() {
		writeUnavailable(w, "MQTT not connected")
		return false
	}
	return true
}

// requireNotDeleted writes 409 and returns false for a tombstoned device.
func (s *Server) requireNotDeleted(w http.ResponseWriter, id string) bool {
	if s.registry.IsTombstoned(id) {
		writeConflict(w, "device was deleted; restore it first")
		return false
	}
	return true
}

// writeCommandError maps a bridge publish failure to a response.
func (s *Server) writeCommandError(w http.ResponseWriter, id string, err error) {
	s.logger.Warn("device command failed", "device_id", id, "error", err)
	if errors.Is(err, mqtt.ErrNotConnected) {
		writeUnavailable(w, "MQTT not connected")
		return
	}
	writeInternalError(w, "failed to publish command")
}

// handleConfigureDevice tells a board which device type to emulate and
// records the type locally.
func (s *Server) handleConfigureDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req configureRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := device.ValidateDeviceType(req.DeviceType); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if !s.requireNotDeleted(w, id) || !s.requireBroker(w) {
		return
	}

	if err := s.bridge.ConfigureDevice(id, req.DeviceType); err != nil {
		s.writeCommandError(w, id, err)
		return
	}

	dt := req.DeviceType
	if s.registry.Update(id, device.Update{Type: &dt}) {
		s.broadcastDevice(id)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"device_id": id,
		"type":      req.DeviceType,
	})
}

// handleSetDeviceValues sends validated values to a board and records them
// locally.
func (s *Server) handleSetDeviceValues(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var values device.Values
	if err := decodeOptionalJSON(r, &values); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := device.ValidateValues(values); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	if !s.requireNotDeleted(w, id) || !s.requireBroker(w) {
		return
	}

	if err := s.bridge.SetDeviceValues(id, values); err != nil {
		s.writeCommandError(w, id, err)
		return
	}

	if s.registry.Update(id, device.Update{Values: values}) {
		s.broadcastDevice(id)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"device_id": id,
		"values":    values,
	})
}

// handleDisconnectDevice asks a board to drop its BLE connection.
func (s *Server) handleDisconnectDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req disconnectRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.DurationMS < 0 {
		writeValidationError(w, "duration_ms must be >= 0")
		return
	}
	if !s.requireNotDeleted(w, id) || !s.requireBroker(w) {
		return
	}

	if err := s.bridge.TriggerDisconnect(id, req.DurationMS, req.Teardown); err != nil {
		s.writeCommandError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"device_id":   id,
		"duration_ms": req.DurationMS,
		"teardown":    req.Teardown,
	})
}

// broadcastDevice pushes the device's current record to subscribers.
func (s *Server) broadcastDevice(id string) {
	if dev, err := s.registry.Get(id); err == nil {
		s.hub.Broadcast(device.NewDeviceUpdate(dev))
	}
}
