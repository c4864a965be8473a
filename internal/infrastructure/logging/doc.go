// Package logging provides structured logging for the BLE simulator core.
//
// It wraps log/slog so every component logs through the same handler with
// the service name and build version attached.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	bridgeLog := logger.With("component", "bridge")
//	bridgeLog.Info("connected", "broker", cfg.MQTT.BrokerAddress())
//
// Never log broker passwords or the InfluxDB token.
package logging
