package device

// Push event type names sent to live consumers.
const (
	EventInitialState  = "initial_state"
	EventDeviceUpdate  = "device_update"
	EventDeviceDeleted = "device_deleted"
	EventHRUpdate      = "hr_update"
)

// InitialStateEvent is sent once to a newly connected consumer.
type InitialStateEvent struct {
	Type    string   `json:"type"`
	Devices []Device `json:"devices"`
}

// DeviceUpdateEvent carries a full device snapshot after any change.
type DeviceUpdateEvent struct {
	Type     string  `json:"type"`
	DeviceID string  `json:"device_id"`
	Data     *Device `json:"data"`
}

// DeviceDeletedEvent announces a removed device.
type DeviceDeletedEvent struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id"`
}

// HRUpdateEvent carries one simulated heart-rate value.
type HRUpdateEvent struct {
	Type      string `json:"type"`
	DeviceID  string `json:"device_id"`
	HeartRate int    `json:"heart_rate"`
}

// NewInitialState builds an initial_state event.
func NewInitialState(devices []Device) InitialStateEvent {
	if devices == nil {
		devices = []Device{}
	}
	return InitialStateEvent{Type: EventInitialState, Devices: devices}
}

// NewDeviceUpdate builds a device_update event.
func NewDeviceUpdate(d *Device) DeviceUpdateEvent {
	return DeviceUpdateEvent{Type: EventDeviceUpdate, DeviceID: d.ID, Data: d}
}

// NewDeviceDeleted builds a device_deleted event.
func NewDeviceDeleted(id string) DeviceDeletedEvent {
	return DeviceDeletedEvent{Type: EventDeviceDeleted, DeviceID: id}
}

// NewHRUpdate builds an hr_update event.
func NewHRUpdate(id string, heartRate int) HRUpdateEvent {
	return HRUpdateEvent{Type: EventHRUpdate, DeviceID: id, HeartRate: heartRate}
}
