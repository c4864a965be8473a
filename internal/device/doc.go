// Package device holds the authoritative in-memory state of every
// simulated BLE peripheral board.
//
// The Registry records identity, peripheral type, latest values, online
// state and transport metadata per device. It is volatile: state is rebuilt
// from retained MQTT messages after a restart.
//
// Deletion is tombstone based. Removing a device blocks every later
// Register and Update for its ID until the tombstone is cleared, either for
// that ID (restore) or for all IDs (process start or explicit request).
//
// The package also defines the push events sent to live consumers, so the
// bridge, the simulation scheduler and the API share one wire shape.
package device
