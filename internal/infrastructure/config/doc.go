// Package config handles loading and validating the BLE simulator core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The config file is optional. With no file and no environment overrides
// the core connects to a broker on localhost:1883 and serves the control
// surface on port 8000.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.BrokerAddress())
package config
