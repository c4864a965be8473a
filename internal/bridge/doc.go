// Package bridge connects the device registry to the MQTT broker.
//
// Inbound, it subscribes to every board's status and values topics and
// routes each message through an mqtt.Router to handlers that update the
// registry, record history and push device_update events. Outbound, it
// publishes configuration, value and disconnect commands to boards and
// clears retained messages for deleted devices.
//
// A broker that cannot be reached at Start leaves the bridge disconnected
// rather than failing the process; publishing then returns ErrNotConnected.
package bridge
