// Package config loads and validates the bridge configuration.
//
// This package manages:
//   - Loading configuration from a YAML file
//   - Overriding selected values with IPXBRIDGE_* environment variables
//   - Per-endpoint defaults (poll interval, timeout, paths)
//   - Validation of required fields
//
// Configuration is read once at startup. Changing endpoints or poll intervals
// requires a restart; hot reload is left to surrounding tooling.
//
// Security Considerations:
//   - Secrets (MQTT password, InfluxDB token, JWT secret) should come from the
//     environment rather than the file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, ep := range cfg.Endpoints {
//	    fmt.Println(ep.ID, ep.Address, ep.PollInterval)
//	}
package config
