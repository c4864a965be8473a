package bridge

import (
	"encoding/json"

	"github.com/nerrad567/blesim-core/internal/device"
	"github.com/nerrad567/blesim-core/internal/infrastructure/mqtt"
)

// statusPayload is the body a board publishes on its status topic. Every
// field is optional; the LWT carries only {"online":false}.
type statusPayload struct {
	Online          *bool   `json:"online"`
	Type            *string `json:"type"`
	BLEStarted      *bool   `json:"ble_started"`
	IP              *string `json:"ip"`
	FirmwareVersion *string `json:"firmware_version"`
}

// handleStatus applies a board's status report to the registry.
// A report without "online" counts as online.
func (b *Bridge) handleStatus(topic string, payload []byte) error {
	deviceID, ok := mqtt.DeviceIDFromTopic(topic)
	if !ok {
		b.logger.Debug("status on unexpected topic", "topic", topic)
		return nil
	}
	if len(payload) == 0 {
		// retained message being cleared
		return nil
	}
	if b.registry.IsTombstoned(deviceID) {
		b.logger.Debug("ignoring status for deleted device", "device_id", deviceID)
		return nil
	}

	var status statusPayload
	if err := json.Unmarshal(payload, &status); err != nil {
		b.logger.Debug("dropping malformed status payload",
			"device_id", deviceID,
			"error", err,
		)
		return nil
	}

	online := true
	if status.Online != nil {
		online = *status.Online
	}

	update := device.Update{
		Online: &online,
		Metadata: device.Metadata{
			BLEStarted:      status.BLEStarted,
			IP:              status.IP,
			FirmwareVersion: status.FirmwareVersion,
		},
	}
	if status.Type != nil && *status.Type != "" {
		dt := device.DeviceType(*status.Type)
		if err := device.ValidateDeviceType(dt); err != nil {
			b.logger.Debug("ignoring unknown device type in status",
				"device_id", deviceID,
				"type", *status.Type,
			)
		} else {
			update.Type = &dt
		}
	}

	if !b.registry.Update(deviceID, update) {
		return nil
	}

	if !online {
		b.logger.Info("device offline", "device_id", deviceID)
	}
	b.broadcastDevice(deviceID)
	return nil
}

// handleValues merges a board's reported values into the registry.
func (b *Bridge) handleValues(topic string, payload []byte) error {
	deviceID, ok := mqtt.DeviceIDFromTopic(topic)
	if !ok {
		b.logger.Debug("values on unexpected topic", "topic", topic)
		return nil
	}
	if len(payload) == 0 {
		return nil
	}
	if b.registry.IsTombstoned(deviceID) {
		b.logger.Debug("ignoring values for deleted device", "device_id", deviceID)
		return nil
	}

	var values device.Values
	if err := json.Unmarshal(payload, &values); err != nil || values == nil {
		b.logger.Debug("dropping malformed values payload",
			"device_id", deviceID,
			"error", err,
		)
		return nil
	}

	if !b.registry.Update(deviceID, device.Update{Values: values}) {
		return nil
	}

	if b.history != nil {
		b.history.WriteDeviceValues(deviceID, values)
	}
	b.broadcastDevice(deviceID)
	return nil
}

// broadcastDevice pushes the device's current record as a device_update.
func (b *Bridge) broadcastDevice(deviceID string) {
	if b.broadcaster == nil {
		return
	}
	d, err := b.registry.Get(deviceID)
	if err != nil {
		return
	}
	b.broadcaster.Broadcast(device.NewDeviceUpdate(d))
}
