package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/blesim-core/internal/device"
)

// deviceRequest is the body of register and update requests. Every field
// is optional.
type deviceRequest struct {
	Type            *device.DeviceType `json:"type"`
	Online          *bool              `json:"online"`
	Values          device.Values      `json:"values"`
	BLEStarted      *bool              `json:"ble_started"`
	IP              *string            `json:"ip"`
	FirmwareVersion *string            `json:"firmware_version"`
}

func (req deviceRequest) update() device.Update {
	return device.Update{
		Type:   req.Type,
		Online: req.Online,
		Values: req.Values,
		Metadata: device.Metadata{
			BLEStarted:      req.BLEStarted,
			IP:              req.IP,
			FirmwareVersion: req.FirmwareVersion,
		},
	}
}

// decodeOptionalJSON decodes r's body into v. An empty body leaves v untouched.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// decodeDeviceRequest reads and validates a register/update body.
func decodeDeviceRequest(w http.ResponseWriter, r *http.Request) (deviceRequest, bool) {
	var req deviceRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return req, false
	}
	if req.Type != nil {
		if err := device.ValidateDeviceType(*req.Type); err != nil {
			writeValidationError(w, err.Error())
			return req, false
		}
	}
	return req, true
}

// handleListDevices returns every known device sorted by ID.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.registry.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleDeviceStats returns device registry statistics.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handleRegisterDevice registers a device by hand, as if its board had
// reported in.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, ok := decodeDeviceRequest(w, r)
	if !ok {
		return
	}

	info := req.update()
	if !s.registry.Register(id, &info) {
		writeConflict(w, "device was deleted; restore it first")
		return
	}

	s.respondWithDevice(w, id, http.StatusCreated)
}

// handleUpdateDevice merges the supplied fields into a device, registering
// it if unknown.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	req, ok := decodeDeviceRequest(w, r)
	if !ok {
		return
	}

	if !s.registry.Update(id, req.update()) {
		writeConflict(w, "device was deleted; restore it first")
		return
	}

	s.respondWithDevice(w, id, http.StatusOK)
}

// handleDeleteDevice forgets a device and tombstones its ID so late
// telemetry cannot bring it back.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.simulator.Disable(id)
	existed := s.registry.Remove(id)
	s.bridge.ClearDeviceRetained(id)
	s.hub.Broadcast(device.NewDeviceDeleted(id))

	s.logger.Info("device deleted", "device_id", id, "existed", existed)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"device_id": id,
		"existed":   existed,
	})
}

// handleRestoreDevice clears a device's tombstone and registers it again.
func (s *Server) handleRestoreDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.registry.ClearTombstone(id)
	if !s.registry.Register(id, nil) {
		writeInternalError(w, "failed to restore device")
		return
	}

	s.respondWithDevice(w, id, http.StatusOK)
}

// handleListTombstones returns the IDs of deleted devices.
func (s *Server) handleListTombstones(w http.ResponseWriter, _ *http.Request) {
	ids := s.registry.Tombstones()
	writeJSON(w, http.StatusOK, map[string]any{"tombstones": ids, "count": len(ids)})
}

// handleClearTombstones lets every deleted device report in again.
func (s *Server) handleClearTombstones(w http.ResponseWriter, _ *http.Request) {
	n := s.registry.ClearAllTombstones()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "cleared": n})
}

// respondWithDevice broadcasts the device's current record and writes it
// as the response.
func (s *Server) respondWithDevice(w http.ResponseWriter, id string, status int) {
	dev, err := s.registry.Get(id)
	if err != nil {
		writeInternalError(w, "failed to get device")
		return
	}
	s.hub.Broadcast(device.NewDeviceUpdate(dev))
	writeJSON(w, status, dev)
}
