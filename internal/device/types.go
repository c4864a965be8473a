package device

import "time"

// Device is the registry's record of one simulated peripheral board.
//
// Transport metadata is embedded so its fields serialise at the top level
// alongside the identity fields, the shape the dashboard consumes.
type Device struct {
	ID   string     `json:"id"`
	Type DeviceType `json:"type"`

	// Values holds the latest reported or commanded value per key.
	Values Values `json:"values"`

	Online    bool      `json:"online"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	Metadata
}

// Metadata holds the fixed set of transport fields a board reports in its
// status message. A nil field was never reported.
type Metadata struct {
	BLEStarted      *bool   `json:"ble_started,omitempty"`
	IP              *string `json:"ip,omitempty"`
	FirmwareVersion *string `json:"firmware_version,omitempty"`
}

// Values maps value keys (heart_rate, speed, ...) to their latest value.
type Values map[string]any

// Update describes a partial change to a device. Nil pointers and a nil
// Values map leave the corresponding fields untouched.
type Update struct {
	Type     *DeviceType
	Online   *bool
	Values   Values
	Metadata Metadata
}

// DeviceType is the BLE peripheral profile a board simulates.
type DeviceType string //nolint:revive // device.DeviceType reads better than device.Type at call sites

// Supported peripheral profiles.
const (
	TypeHeartRate DeviceType = "heart_rate"
	TypeTreadmill DeviceType = "treadmill"
	TypeBike      DeviceType = "bike"
)

// AllDeviceTypes returns every supported peripheral profile.
func AllDeviceTypes() []DeviceType {
	return []DeviceType{TypeHeartRate, TypeTreadmill, TypeBike}
}

// Stats summarises registry contents.
type Stats struct {
	Devices    int `json:"devices"`
	Online     int `json:"online"`
	Tombstones int `json:"tombstones"`
}

// DeepCopy creates a complete independent copy of the Device.
// Values are cloned recursively so callers can modify the copy freely.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d
	cpy.Values = deepCopyMap(d.Values)

	// Metadata pointers are never written through, only replaced, so
	// sharing them is safe.
	return &cpy
}

// apply merges u into d. Values are merged key by key; every other
// supplied field replaces the current one.
func (d *Device) apply(u Update) {
	if u.Type != nil {
		d.Type = *u.Type
	}
	if u.Online != nil {
		d.Online = *u.Online
	}
	if u.Values != nil {
		if d.Values == nil {
			d.Values = make(Values, len(u.Values))
		}
		for k, v := range u.Values {
			d.Values[k] = deepCopyValue(v)
		}
	}
	if u.Metadata.BLEStarted != nil {
		v := *u.Metadata.BLEStarted
		d.BLEStarted = &v
	}
	if u.Metadata.IP != nil {
		v := *u.Metadata.IP
		d.IP = &v
	}
	if u.Metadata.FirmwareVersion != nil {
		v := *u.Metadata.FirmwareVersion
		d.FirmwareVersion = &v
	}
}

// deepCopyMap creates a deep copy of a value map.
// Nested maps and slices are recursively copied.
func deepCopyMap(m Values) Values {
	if m == nil {
		return nil
	}
	cpy := make(Values, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return map[string]any(deepCopyMap(val))
	case Values:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
