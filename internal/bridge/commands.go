package bridge

import (
	"github.com/nerrad567/blesim-core/internal/device"
)

// configPayload is sent on a board's config topic.
type configPayload struct {
	Type device.DeviceType `json:"type"`
}

// disconnectPayload is sent on a board's disconnect topic. Zero fields are
// omitted; the board then disconnects immediately without teardown.
type disconnectPayload struct {
	DurationMS int  `json:"duration_ms,omitempty"`
	Teardown   bool `json:"teardown,omitempty"`
}

// ConfigureDevice tells a board which device type to emulate.
func (b *Bridge) ConfigureDevice(deviceID string, deviceType device.DeviceType) error {
	return b.Publish(b.topics.DeviceConfig(deviceID), configPayload{Type: deviceType}, false)
}

// SetDeviceValues sends values for a board to advertise.
func (b *Bridge) SetDeviceValues(deviceID string, values device.Values) error {
	return b.Publish(b.topics.DeviceSet(deviceID), values, false)
}

// TriggerDisconnect asks a board to drop its BLE connection. A positive
// durationMS keeps it disconnected for that long; teardown also stops
// advertising.
func (b *Bridge) TriggerDisconnect(deviceID string, durationMS int, teardown bool) error {
	payload := disconnectPayload{Teardown: teardown}
	if durationMS > 0 {
		payload.DurationMS = durationMS
	}
	return b.Publish(b.topics.DeviceDisconnect(deviceID), payload, false)
}
