// Package influxdb records device value history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. History is optional:
// when influxdb.enabled is false Connect returns ErrDisabled and the core
// runs without it.
//
// Every accepted value update, whether reported by a device over MQTT or
// produced by the heart-rate simulation, becomes one point in the
// "device_values" measurement tagged with device_id.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, logger)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without history
//	}
//	defer client.Close()
//	client.WriteDeviceValues("hr-1", map[string]any{"heart_rate": 72})
package influxdb
