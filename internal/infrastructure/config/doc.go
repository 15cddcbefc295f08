// Package config handles loading and validating sessiond configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SESSIOND_* environment variables
//   - Validation of required fields and secret strength
//   - Default value handling
//
// Security Considerations:
//   - The JWT secret and hashing key should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Rotating the hashing key invalidates every stored refresh credential
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Security.Sessions.SessionTTL)
package config
