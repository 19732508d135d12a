// Package config handles loading and validating adbmux configuration.
//
// This package manages:
//   - Loading configuration from YAML files (optional for the CLI)
//   - Overriding with ADBMUX_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Durations are written the way time.ParseDuration reads them ("1s",
// "5m"). Credentials (MQTT password, InfluxDB token) are best supplied
// through the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.LoadOptional("adbmux.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Watch.Interval)
package config
