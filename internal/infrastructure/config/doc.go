// Package config handles loading and validating the Tasmota bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The gateway token and broker password should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Runtime settings changed by the operator (broker, auto-sync, gateway token)
// live in the settings store and take precedence over the values loaded here.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.URL)
package config
