// Package config handles loading and validating the Siegenia bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (SIEGENIA_*)
//   - Validation of required fields
//   - Conversion of the device section into session client options
//
// Security Considerations:
//   - Device and MQTT passwords, the device token and the JWT secret should be
//     set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := siegenia.New(cfg.DeviceOptions())
package config
