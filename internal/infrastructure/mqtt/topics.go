package mqtt

import (
	"fmt"
	"strings"
)

// DefaultNamespace is the first topic segment shared by the core and the
// device firmware.
const DefaultNamespace = "ble-sim"

// Topic suffixes under ble-sim/<device_id>/.
const (
	SuffixStatus     = "status"
	SuffixValues     = "values"
	SuffixSet        = "set"
	SuffixConfig     = "config"
	SuffixDisconnect = "disconnect"
)

// Topics provides builders for device and core topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceSet("hr-1") // "ble-sim/hr-1/set"
type Topics struct {
	// Namespace overrides DefaultNamespace when set.
	Namespace string
}

func (t Topics) prefix() string {
	if t.Namespace == "" {
		return DefaultNamespace
	}
	return t.Namespace
}

func (t Topics) device(deviceID, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix(), deviceID, suffix)
}

// DeviceStatus returns the retained status topic a device publishes on.
//
// Example: ble-sim/hr-1/status
func (t Topics) DeviceStatus(deviceID string) string {
	return t.device(deviceID, SuffixStatus)
}

// DeviceValues returns the topic a device reports its current values on.
//
// Example: ble-sim/hr-1/values
func (t Topics) DeviceValues(deviceID string) string {
	return t.device(deviceID, SuffixValues)
}

// DeviceSet returns the topic for value commands to a device.
//
// Example: ble-sim/hr-1/set
func (t Topics) DeviceSet(deviceID string) string {
	return t.device(deviceID, SuffixSet)
}

// DeviceConfig returns the topic for configuring a device's peripheral type.
//
// Example: ble-sim/hr-1/config
func (t Topics) DeviceConfig(deviceID string) string {
	return t.device(deviceID, SuffixConfig)
}

// DeviceDisconnect returns the topic for forcing a BLE disconnect.
//
// Example: ble-sim/hr-1/disconnect
func (t Topics) DeviceDisconnect(deviceID string) string {
	return t.device(deviceID, SuffixDisconnect)
}

// CoreStatus returns the core's own retained status topic. It lives
// outside the device namespace so device wildcards never match it.
//
// Example: ble-sim-core/status
func (t Topics) CoreStatus() string {
	return t.prefix() + "-core/status"
}

// AllDeviceStatus returns a pattern matching every device status topic.
//
// Pattern: ble-sim/+/status
func (t Topics) AllDeviceStatus() string {
	return t.device("+", SuffixStatus)
}

// AllDeviceValues returns a pattern matching every device values topic.
//
// Pattern: ble-sim/+/values
func (t Topics) AllDeviceValues() string {
	return t.device("+", SuffixValues)
}

// DeviceIDFromTopic extracts the device identifier from a
// <namespace>/<device_id>/<suffix> topic. ok is false for any other shape.
func DeviceIDFromTopic(topic string) (deviceID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
