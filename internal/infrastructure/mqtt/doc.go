// Package mqtt provides MQTT connectivity and topic routing for the BLE
// simulator core.
//
// This package manages:
//   - Connection to the broker with Last Will and auto-reconnect
//   - Message publishing, including clearing retained messages
//   - Topic subscriptions with wildcard support
//   - Dispatch of inbound messages to registered handlers (Router)
//
// # Architecture
//
// The ESP32 firmware and the core talk only through the broker:
//
//	ESP32 devices ↔ MQTT Broker ↔ Simulator Core
//
// Devices publish retained ble-sim/<id>/status and ble-sim/<id>/values.
// The core publishes ble-sim/<id>/set, config and disconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	router := mqtt.NewRouter()
//	router.Handle("ble-sim/+/status", onStatus)
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceStatus(), 1, router.Handler())
package mqtt
