// Package api implements the HTTP control surface and WebSocket push channel
// for the BLE simulator core.
//
// This package provides:
//   - REST endpoints for the device registry, tombstones and simulation
//   - Command endpoints that reach boards through the MQTT bridge
//   - A fan-out hub that pushes device events to every live subscriber
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Graceful Degradation
//
// The server operates without a broker connection: reads, registry edits and
// WebSocket connections work, only board commands fail with 503.
package api
